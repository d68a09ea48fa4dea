// Package ftp implements the ftp protocol: banner grab, anonymous and
// credential login and directory listing.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/protocol"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"github.com/spf13/pflag"
)

const (
	Name        = "ftp"
	DefaultPort = 21
)

var anonymous = protocol.Credential{Username: "anonymous", Secret: "anonymous@"}

// Definition returns the ftp protocol definition.
func Definition() *protocol.Definition {
	return &protocol.Definition{
		Name:        Name,
		Description: "own stuff using FTP",
		DefaultPort: DefaultPort,
		Filter:      targets.ServiceFilter{Ports: []int{21}, Services: []string{"ftp"}},
		Flags: func(fs *pflag.FlagSet) {
			fs.String("ls", "", "list files in the directory")
		},
		Bind: func(fs *pflag.FlagSet, run *config.Run) error {
			var err error
			run.FTP.List, err = fs.GetString("ls")
			return err
		},
		Handler: handle,
	}
}

func handle(ctx context.Context, env *protocol.Env, t targets.Target) error {
	port := Definition().Port(env.Run, t)
	addr := net.JoinHostPort(t.Addr, strconv.Itoa(port))

	conn, banner, err := connect(ctx, addr, env.Run.Timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	conn.Close()

	base, err := env.Open(Name, t, port, banner)
	if err != nil {
		return err
	}
	base.Out.Display("%s", banner)

	creds := env.Credentials
	if len(creds) == 0 {
		creds = []protocol.Credential{anonymous}
	}

	for _, cred := range creds {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, _, err := connect(ctx, addr, env.Run.Timeout)
		if err != nil {
			return err
		}
		err = c.login(cred.Username, cred.Secret)
		if errors.Is(err, sharedErrors.ErrAuthFailed) {
			base.Out.Fail("%s:%s", cred.Username, cred.Secret)
			c.Close()
			continue
		}
		if err != nil {
			c.Close()
			return err
		}

		if err := env.RecordLogin(base, cred, store.CredPlaintext, false); err != nil {
			env.Log.Errorw("record login", "target", t.String(), "error", err)
		}
		base.Out.Success("%s:%s", cred.Username, cred.Secret)

		sess := &Session{BaseSession: base, conn: c}
		if dir := env.Run.FTP.List; dir != "" {
			listDir(ctx, sess, dir)
		}
		protocol.RunModules(ctx, env, sess)
		c.quit()

		if !env.Run.Auth.ContinueOnSuccess {
			break
		}
	}
	return nil
}

func listDir(ctx context.Context, s *Session, dir string) {
	entries, err := s.List(ctx, dir)
	if err != nil {
		s.Out.Fail("list %s: %v", dir, err)
		return
	}
	s.Out.Success("Directory listing of %s", dir)
	for _, e := range entries {
		kind := "FILE"
		if e.Dir {
			kind = "DIR "
		}
		s.Out.Print("%s %10d %s", kind, e.Size, e.Name)
	}
}
