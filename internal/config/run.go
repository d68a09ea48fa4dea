// Package config holds the resolved options of a single invocation.
package config

import (
	"time"

	consts "github.com/RomanRII/NetExec/internal/shared/constants"
	"github.com/google/uuid"
)

// Run is the configuration of one invocation. It is filled by the command
// layer, completed during orchestrator setup and treated as read-only once
// dispatch starts.
type Run struct {
	ID        string
	Protocol  string
	Workspace string
	DataDir   string

	Targets   []string
	Threads   int
	Timeout   time.Duration
	RateLimit int
	Progress  bool

	Auth    AuthOptions
	Modules ModuleOptions
	Server  ServerOptions
	Policy  PolicyOptions

	SSH SSHOptions
	FTP FTPOptions
}

// AuthOptions groups credential material shared by every protocol.
type AuthOptions struct {
	Usernames         []string
	Passwords         []string
	CredentialIDExprs []string
	// CredentialIDs is the expanded form of CredentialIDExprs.
	CredentialIDs     []int
	Port              int
	ContinueOnSuccess bool
	NoBruteforce      bool
	UseKcache         bool
}

// ModuleOptions selects and configures module plugins.
type ModuleOptions struct {
	Names       []string
	Options     map[string]string
	List        bool
	ShowOptions bool
}

// ServerOptions configures the optional callback server.
type ServerOptions struct {
	Kind            string
	Host            string
	Port            int
	ConnectbackHost string
}

// PolicyOptions drives the safety gate.
type PolicyOptions struct {
	IgnoreOpsec    bool
	NonInteractive bool
}

// SSHOptions are the ssh protocol specific options.
type SSHOptions struct {
	KeyFile    string
	Command    string
	DumpShadow bool
	DumpUser   string
	SudoCheck  bool
}

// FTPOptions are the ftp protocol specific options.
type FTPOptions struct {
	List string
}

// New returns a Run populated with defaults.
func New() *Run {
	return &Run{
		ID:        uuid.NewString(),
		Workspace: consts.DefaultWorkspace,
		Threads:   consts.DefaultThreads,
		Timeout:   consts.DefaultTimeout,
		Progress:  true,
		Modules: ModuleOptions{
			Options: map[string]string{},
		},
		Server: ServerOptions{
			Kind: "https",
			Host: consts.DefaultServerHost,
		},
	}
}
