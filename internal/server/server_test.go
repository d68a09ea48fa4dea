package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopback struct {
	mu    sync.Mutex
	addrs []string
}

func (l *loopback) listen(network, addr string) (net.Listener, error) {
	l.mu.Lock()
	l.addrs = append(l.addrs, addr)
	l.mu.Unlock()
	return net.Listen(network, "127.0.0.1:0")
}

func echo(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body+" "+r.URL.Path)
	})
}

func get(t *testing.T, client *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestDefaultPort(t *testing.T) {
	tests := map[string]int{"http": 80, "https": 443, "smb": 445, "HTTP": 80}
	for kind, want := range tests {
		got, err := DefaultPort(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got, kind)
	}
	_, err := DefaultPort("gopher")
	assert.ErrorIs(t, err, sharedErrors.ErrServerUnsupported)
}

func TestAttachStartsOneListener(t *testing.T) {
	l := &loopback{}
	m := &Manager{Host: "0.0.0.0", Listen: l.listen}

	require.NoError(t, m.Attach("alpha", KindHTTP, echo("a")))
	require.NoError(t, m.Attach("Beta", KindHTTP, echo("b")))
	require.NoError(t, m.Attach("alpha", KindHTTP, echo("ignored")))

	assert.Equal(t, []string{"0.0.0.0:80"}, l.addrs)
	assert.Equal(t, 1, m.starts)
	assert.True(t, m.Running())

	base := m.BaseURL("127.0.0.1")
	code, body := get(t, http.DefaultClient, base+"/alpha/x")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a /x", body)

	_, body = get(t, http.DefaultClient, base+"/beta/")
	assert.Equal(t, "b /", body)

	code, _ = get(t, http.DefaultClient, base+"/gamma/")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, m.stops)
	assert.False(t, m.Running())

	_, err := http.Get(base + "/alpha/")
	assert.Error(t, err)
}

func TestAttachUsesConfiguredPort(t *testing.T) {
	l := &loopback{}
	m := &Manager{Host: "10.1.1.1", Port: 8443, Listen: l.listen, TLSConfig: SelfSignedTLS}
	require.NoError(t, m.Attach("mod", KindHTTPS, echo("tls")))
	defer m.Shutdown(context.Background())

	assert.Equal(t, []string{"10.1.1.1:8443"}, l.addrs)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	code, body := get(t, client, m.BaseURL("127.0.0.1")+"/mod/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tls /", body)
}

func TestAttachKindConflict(t *testing.T) {
	m := &Manager{Listen: (&loopback{}).listen}
	require.NoError(t, m.Attach("a", KindHTTP, echo("a")))
	defer m.Shutdown(context.Background())

	err := m.Attach("b", KindHTTPS, echo("b"))
	assert.ErrorIs(t, err, sharedErrors.ErrServerConflict)
	assert.Equal(t, 1, m.starts)
}

func TestAttachSMBUnsupported(t *testing.T) {
	l := &loopback{}
	m := &Manager{Listen: l.listen}

	err := m.Attach("a", KindSMB, echo("a"))
	assert.ErrorIs(t, err, sharedErrors.ErrServerUnsupported)
	assert.Empty(t, l.addrs)
	assert.False(t, m.Running())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 0, m.stops)
}

func TestAttachListenFailureIsReturned(t *testing.T) {
	m := &Manager{Listen: func(string, string) (net.Listener, error) {
		return nil, &net.OpError{Op: "listen", Err: io.ErrClosedPipe}
	}}
	assert.Error(t, m.Attach("a", KindHTTP, echo("a")))
	assert.False(t, m.Running())
}

func TestAttachAfterShutdown(t *testing.T) {
	m := &Manager{Listen: (&loopback{}).listen}
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.Attach("a", KindHTTP, echo("a")), ErrClosed)
}

func TestRequestIDPropagates(t *testing.T) {
	m := &Manager{Listen: (&loopback{}).listen}
	require.NoError(t, m.Attach("id", KindHTTP, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, GetRequestID(r.Context()))
	})))
	defer m.Shutdown(context.Background())

	req, err := http.NewRequest(http.MethodGet, m.BaseURL("127.0.0.1")+"/id/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "abc123", string(b))
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))
}
