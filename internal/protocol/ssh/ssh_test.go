package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/protocol"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
)

func init() {
	color.NoColor = true
}

type execFunc func(user, command string) (string, uint32)

type testServer struct {
	port int
	mu   sync.Mutex
	cmds []string
}

func startServer(t *testing.T, passwords map[string]string, clientKey gossh.PublicKey, exec execFunc) *testServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pw []byte) (*gossh.Permissions, error) {
			if want, ok := passwords[c.User()]; ok && want == string(pw) {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
		PublicKeyCallback: func(c gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if clientKey != nil && bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &testServer{port: ln.Addr().(*net.TCPAddr).Port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg, exec)
		}
	}()
	return s
}

func (s *testServer) serve(conn net.Conn, cfg *gossh.ServerConfig, exec execFunc) {
	sconn, chans, reqs, err := gossh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go gossh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(gossh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = gossh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				s.mu.Lock()
				s.cmds = append(s.cmds, payload.Command)
				s.mu.Unlock()

				if payload.Command == "stream" {
					streamUntilClosed(ch)
					return
				}

				out, code := exec(sconn.User(), payload.Command)
				_, _ = ch.Write([]byte(out))
				_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{code}))
				return
			}
		}()
	}
}

// streamUntilClosed writes to stdout and stderr until the client goes away.
func streamUntilClosed(ch gossh.Channel) {
	for i := 0; i < 5000; i++ {
		if _, err := ch.Write([]byte("tick stdout\n")); err != nil {
			return
		}
		if _, err := ch.Stderr().Write([]byte("tick stderr\n")); err != nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func linuxBox(user, command string) (string, uint32) {
	switch {
	case command == "id -u" && user == "root":
		return "0\n", 0
	case command == "id -u":
		return "1000\n", 0
	case command == "whoami":
		return user + "\n", 0
	case strings.Contains(command, "/etc/shadow"):
		return "root:$6$salt$hash:19000:0:99999:7:::\ndaemon:*:19000:0:99999:7:::\nbob:!:19000::::::\nalice:$y$j9T$abc:19000::::::\n", 0
	case strings.Contains(command, "getent shadow"):
		return "alice:$y$j9T$abc:19000::::::\n", 0
	}
	return "", 127
}

func newEnv(t *testing.T, run *config.Run, out *bytes.Buffer) *protocol.Env {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ssh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	creds, err := protocol.BuildCredentials(run, st)
	require.NoError(t, err)
	return &protocol.Env{
		Run:         run,
		Store:       st,
		Log:         zap.NewNop().Sugar(),
		Console:     display.NewConsole(out),
		Credentials: creds,
	}
}

func testRun() *config.Run {
	run := config.New()
	run.Timeout = 5 * time.Second
	return run
}

func TestHandleSpraysUntilSuccess(t *testing.T) {
	srv := startServer(t, map[string]string{"root": "toor"}, nil, linuxBox)

	run := testRun()
	run.Auth.Usernames = []string{"alice", "root"}
	run.Auth.Passwords = []string{"wrong", "toor"}
	run.SSH.Command = "whoami"

	var out bytes.Buffer
	env := newEnv(t, run, &out)
	err := Definition().Handler(context.Background(), env, targets.Target{Addr: "127.0.0.1", Port: srv.port})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "SSH-2.0-Go")
	assert.Contains(t, text, "[-] alice:wrong")
	assert.Contains(t, text, "[-] alice:toor")
	assert.Contains(t, text, "[-] root:wrong")
	assert.Contains(t, text, "[+] root:toor (Pwn3d!)")
	assert.Contains(t, text, "Executed command")

	logins, err := env.Store.Logins("127.0.0.1")
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.True(t, logins[0].Admin)
	assert.Equal(t, "root", logins[0].Credential.Username)
}

func TestHandleContinueOnSuccess(t *testing.T) {
	srv := startServer(t, map[string]string{"root": "toor", "alice": "toor"}, nil, linuxBox)

	run := testRun()
	run.Auth.Usernames = []string{"alice", "root"}
	run.Auth.Passwords = []string{"toor"}
	run.Auth.ContinueOnSuccess = true

	var out bytes.Buffer
	env := newEnv(t, run, &out)
	require.NoError(t, Definition().Handler(context.Background(), env, targets.Target{Addr: "127.0.0.1", Port: srv.port}))

	assert.Contains(t, out.String(), "[+] alice:toor\n")
	assert.Contains(t, out.String(), "[+] root:toor (Pwn3d!)")
}

func TestExecCancelledWhileStreaming(t *testing.T) {
	srv := startServer(t, map[string]string{"root": "toor"}, nil, linuxBox)
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(srv.port))

	client, err := dial(context.Background(), addr, "root", gossh.Password("toor"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	s := &Session{client: client, timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	out, err := s.Exec(ctx, "stream")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out, "tick")

	// the connection stays usable for the next command
	whoami, err := s.Exec(context.Background(), "whoami")
	if err == nil {
		assert.Equal(t, "root\n", whoami)
	}
}

func TestExecReturnsOutputWithExitStatus(t *testing.T) {
	srv := startServer(t, map[string]string{"root": "toor"}, nil, func(user, command string) (string, uint32) {
		return "out\n", 3
	})
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(srv.port))

	client, err := dial(context.Background(), addr, "root", gossh.Password("toor"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	s := &Session{client: client}

	out, err := s.Exec(context.Background(), "false")
	require.EqualError(t, err, "exit status 3")
	assert.Equal(t, "out\n", out)
}

func TestHandleZeroTimeout(t *testing.T) {
	srv := startServer(t, map[string]string{"root": "toor"}, nil, linuxBox)

	run := testRun()
	run.Timeout = 0
	run.Auth.Usernames = []string{"root"}
	run.Auth.Passwords = []string{"toor"}

	var out bytes.Buffer
	env := newEnv(t, run, &out)
	require.NoError(t, Definition().Handler(context.Background(), env, targets.Target{Addr: "127.0.0.1", Port: srv.port}))
	assert.Contains(t, out.String(), "[+] root:toor (Pwn3d!)")
}

func TestHandleDumpShadow(t *testing.T) {
	srv := startServer(t, map[string]string{"root": "toor"}, nil, linuxBox)

	run := testRun()
	run.Auth.Usernames = []string{"root"}
	run.Auth.Passwords = []string{"toor"}
	run.SSH.DumpShadow = true

	var out bytes.Buffer
	env := newEnv(t, run, &out)
	require.NoError(t, Definition().Handler(context.Background(), env, targets.Target{Addr: "127.0.0.1", Port: srv.port}))

	assert.Contains(t, out.String(), "Dumped 2 hashes")
	creds, err := env.Store.CredentialsByID([]int{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, creds, 3)
}

func TestHandleKeyFile(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := gossh.NewPublicKey(pub)
	require.NoError(t, err)
	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600))

	srv := startServer(t, nil, sshPub, linuxBox)

	run := testRun()
	run.Auth.Usernames = []string{"deploy"}
	run.Auth.Passwords = []string{""}
	run.SSH.KeyFile = keyFile
	require.NoError(t, Definition().Validate(run))

	var out bytes.Buffer
	env := newEnv(t, run, &out)
	require.NoError(t, Definition().Handler(context.Background(), env, targets.Target{Addr: "127.0.0.1", Port: srv.port}))
	assert.Contains(t, out.String(), "[+] deploy:(keyfile: "+keyFile+")")
}

func TestHandleUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	var out bytes.Buffer
	env := newEnv(t, testRun(), &out)
	err = Definition().Handler(context.Background(), env, targets.Target{Addr: "127.0.0.1", Port: port})
	assert.Error(t, err)
}

func TestValidateKeyFileNeedsPassword(t *testing.T) {
	run := testRun()
	run.SSH.KeyFile = "/tmp/id_rsa"
	err := Definition().Validate(run)
	assert.ErrorIs(t, err, sharedErrors.ErrMissingOption)
}

func TestDestructive(t *testing.T) {
	run := testRun()
	_, ok := Definition().Destructive(run)
	assert.False(t, ok)

	run.SSH.DumpShadow = true
	q, ok := Definition().Destructive(run)
	assert.True(t, ok)
	assert.Contains(t, q, "--dump-user")

	run.SSH.DumpUser = "alice"
	_, ok = Definition().Destructive(run)
	assert.False(t, ok)
}

func TestParseShadow(t *testing.T) {
	got := ParseShadow("root:$6$x:1::::::\nnobody:*:1::::::\nlocked:!$6$y:1::::::\nempty::1::::::\n\ngarbage\n")
	assert.Equal(t, []ShadowEntry{{Username: "root", Hash: "$6$x"}}, got)
}
