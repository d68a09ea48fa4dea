// Package protocol defines how a wire protocol plugs into a run: its
// per-target handler, its flags and its preconditions.
package protocol

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/module"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Env is everything a handler needs. It is assembled during setup and is
// read-only while handlers run.
type Env struct {
	Run         *config.Run
	Store       *store.Store
	Log         *zap.SugaredLogger
	Console     *display.Console
	Modules     []*module.Loaded
	ModuleCtx   *module.Context
	Credentials []Credential
}

// Handler runs the protocol against a single target. A returned error is
// reported for that target only.
type Handler func(ctx context.Context, env *Env, t targets.Target) error

// Definition describes one protocol.
type Definition struct {
	Name        string
	Description string
	DefaultPort int
	// Filter picks this protocol's services out of scan reports.
	Filter targets.ServiceFilter
	// Flags registers protocol specific flags.
	Flags func(fs *pflag.FlagSet)
	// Bind copies protocol specific flag values into the run.
	Bind func(fs *pflag.FlagSet, run *config.Run) error
	// Validate checks protocol preconditions before anything is contacted.
	Validate func(run *config.Run) error
	// Destructive returns the confirmation question when the run asks for
	// an action that can harm the target.
	Destructive func(run *config.Run) (string, bool)
	Handler     Handler
}

// Port picks the port to contact for t.
func (d *Definition) Port(run *config.Run, t targets.Target) int {
	switch {
	case run.Auth.Port > 0:
		return run.Auth.Port
	case t.Port > 0:
		return t.Port
	}
	return d.DefaultPort
}

// UnknownProtocolError is returned when no protocol is registered under Name.
type UnknownProtocolError struct {
	Name string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("unknown protocol: %s", e.Name)
}

// Registry maps protocol names to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range defs {
		r.defs[strings.ToLower(d.Name)] = d
	}
	return r
}

// Resolve returns the definition for name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, sharedErrors.ErrMissingProtocol
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[strings.ToLower(name)]
	if !ok {
		return nil, &UnknownProtocolError{Name: name}
	}
	return d, nil
}

// Definitions returns every definition sorted by name.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateCommon checks the preconditions shared by every protocol.
func ValidateCommon(run *config.Run, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if run.Auth.UseKcache && getenv("KRB5CCNAME") == "" {
		return fmt.Errorf("%w: --use-kcache requires the KRB5CCNAME environment variable", sharedErrors.ErrMissingOption)
	}
	return nil
}

// RunModules calls OnLogin of every attached module. Module failures are
// reported and do not affect the others.
func RunModules(ctx context.Context, env *Env, s module.Session) {
	for _, m := range env.Modules {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := m.OnLogin(ctx, env.ModuleCtx, s); err != nil {
			s.Console().Fail("module %s: %v", m.Name(), err)
			if env.Log != nil {
				env.Log.Errorw("module failed", "module", m.Name(), "target", s.Target().String(), "error", err)
			}
		}
	}
}
