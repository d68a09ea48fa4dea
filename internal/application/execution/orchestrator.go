// Package execution wires target building, plugin resolution, the safety
// gate, the callback server and dispatch into a single run.
package execution

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/dispatch"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/gate"
	"github.com/RomanRII/NetExec/internal/module"
	"github.com/RomanRII/NetExec/internal/protocol"
	"github.com/RomanRII/NetExec/internal/server"
	consts "github.com/RomanRII/NetExec/internal/shared/constants"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"go.uber.org/zap"
)

// CallbackServer is the listener lifecycle the orchestrator depends on.
// *server.Manager implements it.
type CallbackServer interface {
	Attach(name, kind string, h http.Handler) error
	Addr() net.Addr
	BaseURL(host string) string
	Running() bool
	Shutdown(ctx context.Context) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Protocols *protocol.Registry
	Modules   *module.Registry
	Console   *display.Console
	Log       *zap.SugaredLogger
	Prompter  gate.Prompter
	// OpenStore defaults to store.Open.
	OpenStore func(path string) (*store.Store, error)
	// NewServer defaults to a server.Manager bound to the run's host and port.
	NewServer func(run *config.Run, log *zap.SugaredLogger) CallbackServer
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Orchestrator executes runs.
type Orchestrator struct {
	deps Deps
}

// NewOrchestrator fills defaults in deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.Console == nil {
		deps.Console = display.NewConsole(nil)
	}
	if deps.OpenStore == nil {
		deps.OpenStore = store.Open
	}
	if deps.NewServer == nil {
		deps.NewServer = func(run *config.Run, log *zap.SugaredLogger) CallbackServer {
			return &server.Manager{Host: run.Server.Host, Port: run.Server.Port, Log: log}
		}
	}
	if deps.Modules == nil {
		deps.Modules = module.NewRegistry()
	}
	return &Orchestrator{deps: deps}
}

// Run executes one invocation. Setup is linear and completes, including
// every prompt, before the first target is contacted. Teardown always runs.
// An interrupted run, during setup or dispatch, is not an error.
func (o *Orchestrator) Run(ctx context.Context, run *config.Run) error {
	log := o.deps.Log.With("run_id", run.ID, "protocol", run.Protocol)

	def, err := o.deps.Protocols.Resolve(run.Protocol)
	if err != nil {
		return err
	}
	log.Debugw("protocol resolved", "protocol", def.Name)

	if err := protocol.ValidateCommon(run, o.deps.Getenv); err != nil {
		return err
	}
	if def.Validate != nil {
		if err := def.Validate(run); err != nil {
			return err
		}
	}

	ids, err := targets.ExpandCredentialIDs(run.Auth.CredentialIDExprs)
	if err != nil {
		return err
	}
	run.Auth.CredentialIDs = ids

	if err := ctx.Err(); err != nil {
		return setupInterrupted(log, "validate", err)
	}

	dbPath := store.Path(run.DataDir, run.Workspace, def.Name)
	log.Debugw("opening store", "path", dbPath)
	st, err := o.deps.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Errorw("close store", "error", cerr)
		}
	}()

	if run.Modules.List {
		o.listModules(def.Name)
		return nil
	}
	if run.Modules.ShowOptions && len(run.Modules.Names) > 0 {
		return o.showOptions(run.Modules.Names)
	}

	if err := ctx.Err(); err != nil {
		return setupInterrupted(log, "store", err)
	}

	builder := &targets.Builder{Filter: def.Filter}
	list, err := builder.Build(run.Targets)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return sharedErrors.ErrNoTargets
	}
	log.Debugw("targets built", "count", len(list))

	mctx := &module.Context{Run: run, Store: st, Log: log, Console: o.deps.Console}
	g := &gate.Gate{
		Policy:   gate.Policy{IgnoreOpsec: run.Policy.IgnoreOpsec, NonInteractive: run.Policy.NonInteractive},
		Prompter: o.deps.Prompter,
		Log:      log,
	}

	mods, srv, err := o.loadModules(ctx, run, def.Name, mctx, g, len(list), log)
	if srv != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), consts.ShutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(sctx); serr != nil {
				log.Errorw("shutdown callback server", "error", serr)
			}
		}()
	}
	if err != nil {
		return setupInterrupted(log, "modules", err)
	}
	if srv != nil && srv.Running() {
		o.deps.Console.Display("Callback server listening on %s", mctx.CallbackBase)
	}

	if def.Destructive != nil {
		if question, ok := def.Destructive(run); ok {
			if err := g.ConfirmDestructive(ctx, question); err != nil {
				return setupInterrupted(log, "confirm", err)
			}
		}
	}

	creds, err := protocol.BuildCredentials(run, st)
	if err != nil {
		return err
	}

	env := &protocol.Env{
		Run:         run,
		Store:       st,
		Log:         log,
		Console:     o.deps.Console,
		Modules:     mods,
		ModuleCtx:   mctx,
		Credentials: creds,
	}

	if err := ctx.Err(); err != nil {
		return setupInterrupted(log, "credentials", err)
	}

	if err := st.BeginRun(run.ID, def.Name, len(list)); err != nil {
		log.Errorw("record run start", "error", err)
	}
	defer func() {
		if ferr := st.FinishRun(run.ID); ferr != nil {
			log.Errorw("record run end", "error", ferr)
		}
	}()

	engine := &dispatch.Engine{Width: run.Threads, RateLimit: run.RateLimit, Log: log}
	if len(list) > 1 && run.Progress {
		engine.Observer = display.NewProgress(o.deps.Console, len(list), def.Name)
	}

	res, err := engine.Run(ctx, list, func(ctx context.Context, t targets.Target) error {
		return def.Handler(ctx, env, t)
	})
	log.Infow("run complete", "submitted", res.Submitted, "succeeded", res.Succeeded, "failed", res.Failed)
	if errors.Is(err, context.Canceled) {
		log.Debugw("dispatch interrupted")
		return nil
	}
	return err
}

// setupInterrupted turns a cancellation seen before dispatch into a clean
// stop. Other errors are returned unchanged.
func setupInterrupted(log *zap.SugaredLogger, step string, err error) error {
	if errors.Is(err, context.Canceled) {
		log.Debugw("setup interrupted", "step", step)
		return nil
	}
	return err
}

// loadModules resolves, gates and initializes the requested modules in order
// and attaches callback routes. The returned server is non-nil whenever one
// was created, also on error, so the caller can shut it down.
func (o *Orchestrator) loadModules(ctx context.Context, run *config.Run, proto string, mctx *module.Context, g *gate.Gate, targetCount int, log *zap.SugaredLogger) ([]*module.Loaded, CallbackServer, error) {
	if len(run.Modules.Names) == 0 {
		return nil, nil, nil
	}
	resolved, err := o.deps.Modules.Resolve(run.Modules.Names)
	if err != nil {
		return nil, nil, err
	}

	var (
		srv  CallbackServer
		mods = make([]*module.Loaded, 0, len(resolved))
	)
	for _, m := range resolved {
		if !m.Supports(proto) {
			return nil, srv, fmt.Errorf("module %s does not support protocol %s", m.Name(), proto)
		}
		if err := ctx.Err(); err != nil {
			return nil, srv, err
		}
		if err := g.Approve(ctx, m, targetCount); err != nil {
			return nil, srv, err
		}
		if err := m.Init(mctx, run.Modules.Options); err != nil {
			return nil, srv, fmt.Errorf("init module %s: %w", m.Name(), err)
		}

		if m.Caps.Callbacks {
			kind := run.Server.Kind
			if m.Caps.RequiredServer != "" {
				kind = m.Caps.RequiredServer
			}
			if err := ctx.Err(); err != nil {
				return nil, srv, err
			}
			if srv == nil {
				srv = o.deps.NewServer(run, log)
			}
			if err := srv.Attach(m.Name(), kind, m.Handler(mctx)); err != nil {
				log.Errorw("error loading module server", "module", m.Name(), "kind", kind, "error", err)
				o.deps.Console.Fail("Error loading module server for %s: %v", m.Name(), err)
			} else {
				o.bindServer(run, kind, srv, mctx)
			}
		}
		mods = append(mods, m)
		log.Debugw("module loaded", "module", m.Name(), "opsec_safe", m.Caps.OpsecSafe, "multiple_hosts", m.Caps.MultipleHosts, "callbacks", m.Caps.Callbacks)
	}
	return mods, srv, nil
}

// bindServer records the listener's resolved kind, port and public URL.
func (o *Orchestrator) bindServer(run *config.Run, kind string, srv CallbackServer, mctx *module.Context) {
	run.Server.Kind = kind
	if addr := srv.Addr(); addr != nil {
		if _, p, err := net.SplitHostPort(addr.String()); err == nil {
			run.Server.Port, _ = strconv.Atoi(p)
		}
	}
	host := run.Server.ConnectbackHost
	if host == "" {
		host = run.Server.Host
	}
	mctx.CallbackBase = srv.BaseURL(host)
}

func (o *Orchestrator) listModules(proto string) {
	for _, m := range o.deps.Modules.List(proto) {
		o.deps.Console.Display("%-25s %s", m.Name(), m.Description())
	}
}

func (o *Orchestrator) showOptions(names []string) error {
	mods, err := o.deps.Modules.Resolve(names)
	if err != nil {
		return err
	}
	for _, m := range mods {
		o.deps.Console.Display("%s module options:\n%s", m.Name(), strings.TrimRight(m.Options(), "\n"))
	}
	return nil
}
