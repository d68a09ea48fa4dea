package errors

import "errors"

// Run setup errors. All of them abort the run before dispatch.
var (
	ErrMissingProtocol       = errors.New("a protocol is required")
	ErrMalformedCredentialID = errors.New("malformed credential id")
	ErrMissingOption         = errors.New("missing required option")
	ErrDeclined              = errors.New("operation declined by operator")
	ErrTargetFile            = errors.New("unable to parse target file")
	ErrNoTargets             = errors.New("no targets specified")
	ErrInvalidModuleOption   = errors.New("invalid module option")
)

// Callback server errors. These are recoverable.
var (
	ErrServerUnsupported = errors.New("server kind is not supported")
	ErrServerConflict    = errors.New("callback server already running with a different kind")
)

// Per-target errors.
var (
	ErrAuthFailed        = errors.New("authentication failed")
	ErrUnsupportedAction = errors.New("action not supported by protocol")
)
