// Package ssh implements the ssh protocol: banner grab, credential spraying,
// admin detection, command execution and shadow dumping.
package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/protocol"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"github.com/spf13/pflag"
	gossh "golang.org/x/crypto/ssh"
)

const (
	Name        = "ssh"
	DefaultPort = 22
)

const dumpQuestion = "[!] Dumping /etc/shadow reads every account hash and is logged by most EDRs. Use --dump-user <user> to dump a single account [Y/n] "

// Definition returns the ssh protocol definition.
func Definition() *protocol.Definition {
	return &protocol.Definition{
		Name:        Name,
		Description: "own stuff using SSH",
		DefaultPort: DefaultPort,
		Filter:      targets.ServiceFilter{Ports: []int{22}, Services: []string{"ssh"}},
		Flags:       flags,
		Bind:        bind,
		Validate:    validate,
		Destructive: destructive,
		Handler:     handle,
	}
}

func flags(fs *pflag.FlagSet) {
	fs.String("key-file", "", "authenticate with a private key (-p is its passphrase, -p '' for none)")
	fs.StringP("execute", "x", "", "execute the specified command")
	fs.Bool("dump-shadow", false, "dump /etc/shadow hashes (needs passwordless sudo or root)")
	fs.String("dump-user", "", "dump the shadow entry of a single user")
	fs.Bool("sudo-check", false, "also treat passwordless sudo as admin")
}

func bind(fs *pflag.FlagSet, run *config.Run) error {
	var err error
	if run.SSH.KeyFile, err = fs.GetString("key-file"); err != nil {
		return err
	}
	if run.SSH.Command, err = fs.GetString("execute"); err != nil {
		return err
	}
	if run.SSH.DumpShadow, err = fs.GetBool("dump-shadow"); err != nil {
		return err
	}
	if run.SSH.DumpUser, err = fs.GetString("dump-user"); err != nil {
		return err
	}
	run.SSH.SudoCheck, err = fs.GetBool("sudo-check")
	return err
}

func validate(run *config.Run) error {
	if run.SSH.KeyFile != "" && len(run.Auth.Passwords) == 0 {
		return fmt.Errorf("%w: --key-file requires -p as the key passphrase (use -p '' for an unencrypted key)", sharedErrors.ErrMissingOption)
	}
	if run.SSH.KeyFile != "" {
		if _, err := os.Stat(run.SSH.KeyFile); err != nil {
			return fmt.Errorf("%w: key file: %v", sharedErrors.ErrMissingOption, err)
		}
	}
	return nil
}

func destructive(run *config.Run) (string, bool) {
	if run.SSH.DumpShadow && run.SSH.DumpUser == "" {
		return dumpQuestion, true
	}
	return "", false
}

func handle(ctx context.Context, env *protocol.Env, t targets.Target) error {
	def := Definition()
	port := def.Port(env.Run, t)
	addr := net.JoinHostPort(t.Addr, strconv.Itoa(port))
	timeout := env.Run.Timeout

	banner, err := grabBanner(ctx, addr, timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	base, err := env.Open(Name, t, port, banner)
	if err != nil {
		return err
	}
	base.Out.Display("%s", banner)

	if env.Run.Auth.UseKcache {
		base.Out.Fail("kerberos authentication is not available for ssh")
		return nil
	}

	var signer gossh.Signer
	for _, cred := range env.Credentials {
		if err := ctx.Err(); err != nil {
			return err
		}

		method, display, err := authMethod(env.Run, cred, &signer)
		if err != nil {
			base.Out.Fail("%s: %v", cred.Username, err)
			continue
		}

		client, err := dial(ctx, addr, cred.Username, method, timeout)
		if err != nil {
			if errors.Is(err, sharedErrors.ErrAuthFailed) {
				base.Out.Fail("%s:%s", cred.Username, display)
				continue
			}
			return err
		}

		sess := &Session{BaseSession: base, client: client, timeout: timeout}
		err = afterLogin(ctx, env, sess, cred, display)
		client.Close()
		if err != nil {
			return err
		}
		if !env.Run.Auth.ContinueOnSuccess {
			break
		}
	}
	return nil
}

func authMethod(run *config.Run, cred protocol.Credential, cached *gossh.Signer) (gossh.AuthMethod, string, error) {
	if run.SSH.KeyFile == "" {
		return gossh.Password(cred.Secret), cred.Secret, nil
	}
	if *cached == nil {
		s, err := loadKey(run.SSH.KeyFile, cred.Secret)
		if err != nil {
			return nil, "", err
		}
		*cached = s
	}
	return gossh.PublicKeys(*cached), "(keyfile: " + run.SSH.KeyFile + ")", nil
}

func loadKey(path, passphrase string) (gossh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		return gossh.ParsePrivateKey(pem)
	}
	return gossh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
}

func afterLogin(ctx context.Context, env *protocol.Env, s *Session, cred protocol.Credential, display string) error {
	admin := s.isAdmin(ctx, env.Run.SSH.SudoCheck)
	credType := store.CredPlaintext
	if env.Run.SSH.KeyFile != "" {
		credType = store.CredKey
	}
	if err := env.RecordLogin(s.BaseSession, cred, credType, admin); err != nil {
		env.Log.Errorw("record login", "target", s.T.String(), "error", err)
	}

	msg := cred.Username + ":" + display
	if admin {
		msg += " " + adminMarker
	}
	s.Out.Success("%s", msg)

	if cmd := env.Run.SSH.Command; cmd != "" {
		out, err := s.Exec(ctx, cmd)
		if err != nil {
			s.Out.Fail("execute: %v", err)
		} else {
			s.Out.Success("Executed command")
			printLines(s, out)
		}
	}

	if env.Run.SSH.DumpShadow || env.Run.SSH.DumpUser != "" {
		dumpShadow(ctx, env, s, env.Run.SSH.DumpUser)
	}

	protocol.RunModules(ctx, env, s)
	return nil
}

func printLines(s *Session, out string) {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			s.Out.Print("%s", line)
		}
	}
}

func grabBanner(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
