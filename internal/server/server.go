// Package server runs the optional callback listener that modules use to
// receive requests from targets. At most one listener runs per run.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	consts "github.com/RomanRII/NetExec/internal/shared/constants"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"go.uber.org/zap"
)

// Server kinds.
const (
	KindHTTP  = "http"
	KindHTTPS = "https"
	KindSMB   = "smb"
)

var defaultPorts = map[string]int{
	KindHTTP:  80,
	KindHTTPS: 443,
	KindSMB:   445,
}

// DefaultPort returns the port used for kind when none was configured.
func DefaultPort(kind string) (int, error) {
	p, ok := defaultPorts[strings.ToLower(kind)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", sharedErrors.ErrServerUnsupported, kind)
	}
	return p, nil
}

// ErrClosed is returned by Attach after Shutdown.
var ErrClosed = errors.New("callback server manager is shut down")

// Manager owns the callback listener. Attach starts it on first use; Shutdown
// stops it exactly once.
type Manager struct {
	Host string
	// Port overrides the per-kind default when positive.
	Port int
	Log  *zap.SugaredLogger
	// Listen defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)
	// TLSConfig builds the https configuration, defaulting to a self-signed
	// certificate for Host.
	TLSConfig func(host string) (*tls.Config, error)

	mu       sync.Mutex
	kind     string
	srv      *http.Server
	ln       net.Listener
	mux      *http.ServeMux
	routes   map[string]bool
	serveErr chan error
	closed   bool

	starts   int
	stops    int
	stopOnce sync.Once
	stopErr  error
}

func (m *Manager) logger() *zap.SugaredLogger {
	if m.Log == nil {
		return zap.NewNop().Sugar()
	}
	return m.Log
}

// Attach mounts h under /<name>/ on a listener of the given kind, starting
// the listener if this is the first attachment.
func (m *Manager) Attach(name, kind string, h http.Handler) error {
	kind = strings.ToLower(kind)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.srv == nil {
		if err := m.start(kind); err != nil {
			return err
		}
	} else if kind != m.kind {
		return fmt.Errorf("%w: running %s, %s wants %s", sharedErrors.ErrServerConflict, m.kind, name, kind)
	}

	name = strings.ToLower(name)
	if m.routes[name] {
		return nil
	}
	prefix := "/" + name
	m.mux.Handle(prefix+"/", http.StripPrefix(prefix, h))
	m.routes[name] = true
	m.logger().Debugw("callback route mounted", "module", name, "path", prefix+"/")
	return nil
}

func (m *Manager) start(kind string) error {
	if kind == KindSMB {
		return fmt.Errorf("%w: %s", sharedErrors.ErrServerUnsupported, kind)
	}
	port := m.Port
	if port <= 0 {
		p, err := DefaultPort(kind)
		if err != nil {
			return err
		}
		port = p
	}
	host := m.Host
	if host == "" {
		host = consts.DefaultServerHost
	}

	var tlsCfg *tls.Config
	if kind == KindHTTPS {
		build := m.TLSConfig
		if build == nil {
			build = SelfSignedTLS
		}
		cfg, err := build(host)
		if err != nil {
			return fmt.Errorf("tls config: %w", err)
		}
		tlsCfg = cfg
	}

	listen := m.Listen
	if listen == nil {
		listen = net.Listen
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	m.mux = http.NewServeMux()
	m.routes = make(map[string]bool)
	m.kind = kind
	m.ln = ln
	m.srv = &http.Server{
		Handler:           RequestID(withLogging(m.logger(), m.mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	m.serveErr = make(chan error, 1)
	m.starts++

	srv := m.srv
	go func() {
		m.serveErr <- srv.Serve(ln)
	}()
	m.logger().Infow("callback server started", "kind", kind, "addr", ln.Addr().String())
	return nil
}

// Running reports whether a listener was started.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.srv != nil && !m.closed
}

// Kind returns the kind of the running listener.
func (m *Manager) Kind() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// Addr returns the bound address, nil when not started.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// BaseURL is the URL targets should call back to. host replaces the bind
// address, which is needed when listening on 0.0.0.0.
func (m *Manager) BaseURL(host string) string {
	addr := m.Addr()
	if addr == nil {
		return ""
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	if host == "" {
		host, _, _ = net.SplitHostPort(addr.String())
	}
	return m.Kind() + "://" + net.JoinHostPort(host, port)
}

// Shutdown stops the listener if one was started. Only the first call has an
// effect; later calls return the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		srv := m.srv
		serveErr := m.serveErr
		m.mu.Unlock()

		if srv == nil {
			return
		}

		m.mu.Lock()
		m.stops++
		m.mu.Unlock()

		if err := srv.Shutdown(ctx); err != nil {
			if closeErr := srv.Close(); closeErr != nil {
				m.stopErr = fmt.Errorf("shutdown callback server: %w (close error: %v)", err, closeErr)
				return
			}
			m.stopErr = fmt.Errorf("shutdown callback server: %w", err)
			return
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.stopErr = err
		}
		m.logger().Infow("callback server stopped")
	})
	return m.stopErr
}
