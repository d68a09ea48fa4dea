// Package store is the per-workspace, per-protocol persistence layer shared by
// protocol handlers and modules.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	consts "github.com/RomanRII/NetExec/internal/shared/constants"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps one SQLite database. It is safe for concurrent use: writers are
// serialized on a single pooled connection.
type Store struct {
	conn *gorm.DB
	path string
}

// Path returns the database location for a workspace and protocol.
func Path(dataDir, workspace, protocol string) string {
	return filepath.Join(dataDir, "workspaces", workspace, protocol+".db")
}

// Open creates or opens the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), consts.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{conn: conn, path: path}
	if err := s.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate migrates the current database structures.
func (s *Store) Migrate() error {
	return s.conn.AutoMigrate(&Host{}, &Credential{}, &Login{}, &Loot{}, &Run{})
}

// Close disposes of the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Path returns the database file of this store.
func (s *Store) Path() string {
	return s.path
}

// AddHost inserts or refreshes a host and returns its row.
func (s *Store) AddHost(h Host) (*Host, error) {
	var existing Host
	err := s.conn.Where(map[string]any{"address": h.Address, "port": h.Port}).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.conn.Create(&h).Error; err != nil {
			return nil, err
		}
		return &h, nil
	case err != nil:
		return nil, err
	}

	updates := map[string]any{}
	if h.Hostname != "" {
		updates["hostname"] = h.Hostname
	}
	if h.Banner != "" {
		updates["banner"] = h.Banner
	}
	if h.OS != "" {
		updates["os"] = h.OS
	}
	if len(updates) > 0 {
		if err := s.conn.Model(&existing).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &existing, nil
}

// AddCredential stores a credential once and returns its row.
func (s *Store) AddCredential(c Credential) (*Credential, error) {
	if c.CredType == "" {
		c.CredType = CredPlaintext
	}
	err := s.conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&c).Error
	if err != nil {
		return nil, err
	}
	var out Credential
	err = s.conn.Where(map[string]any{"username": c.Username, "secret": c.Secret, "cred_type": c.CredType}).First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CredentialsByID returns the credentials with the given ids in id order.
// Unknown ids are ignored.
func (s *Store) CredentialsByID(ids []int) ([]Credential, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []Credential
	if err := s.conn.Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]Credential, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]Credential, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[uint(id)]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddLogin links a host and a credential. Admin is sticky once true.
func (s *Store) AddLogin(hostID, credID uint, admin bool) error {
	login := Login{HostID: hostID, CredentialID: credID, Admin: admin}
	return s.conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "host_id"}, {Name: "credential_id"}},
		DoUpdates: clause.Assignments(map[string]any{"admin": gorm.Expr("admin OR ?", admin)}),
	}).Create(&login).Error
}

// Logins returns every login for a host address.
func (s *Store) Logins(address string) ([]Login, error) {
	var out []Login
	err := s.conn.Joins("Host").Preload("Credential").
		Where("Host.address = ?", address).Find(&out).Error
	return out, err
}

// AddLoot records a module finding.
func (s *Store) AddLoot(hostID uint, module, key, value string) error {
	return s.conn.Create(&Loot{HostID: hostID, Module: module, Key: key, Value: value}).Error
}

// LootFor returns the findings of a module.
func (s *Store) LootFor(module string) ([]Loot, error) {
	var out []Loot
	err := s.conn.Preload("Host").Where(&Loot{Module: module}).Order("id").Find(&out).Error
	return out, err
}

// BeginRun records the start of an invocation.
func (s *Store) BeginRun(id, protocol string, targetCount int) error {
	return s.conn.Create(&Run{ID: id, Protocol: protocol, TargetCount: targetCount, StartedAt: time.Now().UTC()}).Error
}

// FinishRun stamps the end of an invocation.
func (s *Store) FinishRun(id string) error {
	now := time.Now().UTC()
	return s.conn.Model(&Run{ID: id}).Update("finished_at", &now).Error
}

// GetRun loads an invocation record.
func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	if err := s.conn.First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}
