package store

import (
	"time"

	"gorm.io/gorm"
)

// Host is an endpoint a protocol handler reached.
type Host struct {
	gorm.Model
	Address  string `gorm:"uniqueIndex:idx_host_addr_port"`
	Port     int    `gorm:"uniqueIndex:idx_host_addr_port"`
	Hostname string
	Banner   string
	OS       string
}

// Credential is a secret that was supplied, discovered or dumped.
type Credential struct {
	gorm.Model
	Username string `gorm:"uniqueIndex:idx_cred"`
	Secret   string `gorm:"uniqueIndex:idx_cred"`
	CredType string `gorm:"uniqueIndex:idx_cred"`
	Source   string
}

// Login records that a credential was accepted by a host.
type Login struct {
	gorm.Model
	HostID       uint `gorm:"uniqueIndex:idx_login"`
	CredentialID uint `gorm:"uniqueIndex:idx_login"`
	Admin        bool
	Host         Host
	Credential   Credential
}

// Loot is a key/value finding produced by a module for a host.
type Loot struct {
	gorm.Model
	HostID uint
	Module string `gorm:"index"`
	Key    string
	Value  string
	Host   Host
}

// Run tracks one invocation against this database.
type Run struct {
	ID          string `gorm:"primaryKey"`
	Protocol    string
	TargetCount int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Credential types.
const (
	CredPlaintext = "plaintext"
	CredKey       = "key"
	CredHash      = "hash"
)
