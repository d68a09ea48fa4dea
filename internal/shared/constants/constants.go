package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// DefaultThreads matches the historical worker width of the tool.
	DefaultThreads = 256
	// DefaultTimeout bounds a single connection attempt against a target.
	DefaultTimeout = 10 * time.Second
	// DefaultWorkspace is used when no workspace is configured.
	DefaultWorkspace = "default"
	// DefaultServerHost is the bind address of the callback server.
	DefaultServerHost = "0.0.0.0"
	// ShutdownTimeout caps how long teardown waits for the callback server.
	ShutdownTimeout = 5 * time.Second
)
