package application

import (
	"fmt"
	"path/filepath"

	"github.com/RomanRII/NetExec/internal/application/execution"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/gate"
	"github.com/RomanRII/NetExec/internal/module"
	"github.com/RomanRII/NetExec/internal/protocol"
	"github.com/RomanRII/NetExec/internal/protocol/ftp"
	"github.com/RomanRII/NetExec/internal/protocol/ssh"
	"go.uber.org/zap"
)

// Container holds the registries and services of the application.
// This is a simple dependency injection container
type Container struct {
	Protocols    *protocol.Registry
	Modules      *module.Registry
	Orchestrator *execution.Orchestrator
}

// Protocols returns the compiled-in protocol definitions.
func Protocols() []*protocol.Definition {
	return []*protocol.Definition{ssh.Definition(), ftp.Definition()}
}

// NewContainer builds the registries and the orchestrator. Module manifests
// are loaded from <dataDir>/modules.
func NewContainer(dataDir string, console *display.Console, log *zap.SugaredLogger, prompter gate.Prompter) (*Container, error) {
	protocols := protocol.NewRegistry(Protocols()...)

	modules := module.NewRegistry()
	if err := module.RegisterBuiltins(modules); err != nil {
		return nil, fmt.Errorf("failed to register builtin modules: %w", err)
	}
	if dataDir != "" {
		n, err := modules.LoadManifests(filepath.Join(dataDir, "modules"), log)
		if err != nil {
			return nil, fmt.Errorf("failed to load module manifests: %w", err)
		}
		if log != nil && n > 0 {
			log.Debugw("module manifests loaded", "count", n)
		}
	}

	orchestrator := execution.NewOrchestrator(execution.Deps{
		Protocols: protocols,
		Modules:   modules,
		Console:   console,
		Log:       log,
		Prompter:  prompter,
	})

	return &Container{
		Protocols:    protocols,
		Modules:      modules,
		Orchestrator: orchestrator,
	}, nil
}
