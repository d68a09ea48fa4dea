// Package module defines the plugin contract for extra per-target logic and
// the registry that resolves plugins by name.
package module

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"go.uber.org/zap"
)

// Capabilities are the flags the safety gate and the callback server
// manager act on. Callbacks is derived when the module is loaded.
type Capabilities struct {
	OpsecSafe      bool
	MultipleHosts  bool
	RequiredServer string
	Callbacks      bool
}

// Module is a named unit of logic run after a successful login.
type Module interface {
	Name() string
	Description() string
	SupportedProtocols() []string
	Options() string
	Capabilities() Capabilities
	// Init is called once per run before dispatch with the parsed -o options.
	Init(mctx *Context, opts map[string]string) error
	OnLogin(ctx context.Context, mctx *Context, s Session) error
}

// RequestHandler receives GET requests on the module's callback path.
type RequestHandler interface {
	OnRequest(mctx *Context, w http.ResponseWriter, r *http.Request)
}

// ResponseHandler receives POST requests on the module's callback path.
type ResponseHandler interface {
	OnResponse(mctx *Context, w http.ResponseWriter, r *http.Request)
}

// Context is shared by every module of a run. It is completed during setup
// and read-only once dispatch starts.
type Context struct {
	Run     *config.Run
	Store   *store.Store
	Log     *zap.SugaredLogger
	Console *display.Console
	// CallbackBase is scheme://host:port of the callback server, empty when
	// no server is running.
	CallbackBase string
}

// CallbackURL returns the URL routed to the named module, or "" without a server.
func (c *Context) CallbackURL(name string) string {
	if c == nil || c.CallbackBase == "" {
		return ""
	}
	return strings.TrimRight(c.CallbackBase, "/") + "/" + strings.ToLower(name) + "/"
}

// Session is the authenticated connection a protocol hands to modules.
type Session interface {
	Target() targets.Target
	HostID() uint
	Console() *display.TargetConsole
	Exec(ctx context.Context, command string) (string, error)
}

// Lister is implemented by sessions that can enumerate remote paths.
type Lister interface {
	List(ctx context.Context, path string) ([]Entry, error)
}

// Entry is one item of a remote listing.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Loaded is a resolved module with capabilities fixed at load time.
type Loaded struct {
	Module
	Caps Capabilities
}

func load(m Module) *Loaded {
	caps := m.Capabilities()
	_, onReq := m.(RequestHandler)
	_, onResp := m.(ResponseHandler)
	caps.Callbacks = onReq || onResp
	return &Loaded{Module: m, Caps: caps}
}

// Supports reports whether the module runs under protocol.
func (l *Loaded) Supports(protocol string) bool {
	for _, p := range l.SupportedProtocols() {
		if strings.EqualFold(p, protocol) {
			return true
		}
	}
	return false
}

// Handler routes callback requests to the module hooks.
func (l *Loaded) Handler(mctx *Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if h, ok := l.Module.(RequestHandler); ok {
				h.OnRequest(mctx, w, r)
				return
			}
		case http.MethodPost:
			if h, ok := l.Module.(ResponseHandler); ok {
				h.OnResponse(mctx, w, r)
				return
			}
		}
		w.Header().Set("Allow", allowed(l.Module))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
}

func allowed(m Module) string {
	var methods []string
	if _, ok := m.(RequestHandler); ok {
		methods = append(methods, http.MethodGet)
	}
	if _, ok := m.(ResponseHandler); ok {
		methods = append(methods, http.MethodPost)
	}
	return strings.Join(methods, ", ")
}

// UnknownModuleError is returned when a requested module is not registered.
type UnknownModuleError struct {
	Name string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("module not found: %s", e.Name)
}
