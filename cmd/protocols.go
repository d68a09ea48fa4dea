package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RomanRII/NetExec/internal/application"
	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/gate"
	"github.com/RomanRII/NetExec/internal/protocol"
	consts "github.com/RomanRII/NetExec/internal/shared/constants"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	stdinInteractive  = func() bool { return gate.Interactive(os.Stdin) }
	stdoutInteractive = func() bool { return gate.Interactive(os.Stdout) }
	newPrompter       = func() gate.Prompter { return gate.NewTerminalPrompter(os.Stdin, stdout) }
)

func newProtocolCommand(def *protocol.Definition) *cobra.Command {
	cmd := &cobra.Command{
		Use:   def.Name + " [targets...]",
		Short: def.Description,
		Long: fmt.Sprintf(`%s

Targets may be IP addresses, CIDR ranges, IP ranges (10.0.0.1-20),
hostnames, or files containing any of those, nmap XML or .nessus reports.`, def.Description),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := buildRun(cmd.Flags(), def, args)
			if err != nil {
				return err
			}
			return runProtocol(run)
		},
	}

	f := cmd.Flags()
	f.IntP("threads", "t", consts.DefaultThreads, "set how many concurrent threads to use")
	f.Int("timeout", int(consts.DefaultTimeout/time.Second), "max timeout in seconds of each thread")
	f.Int("rate", 0, "maximum targets started per second (0 = unlimited)")
	f.Bool("no-progress", false, "do not display progress bar during scan")
	f.StringArrayP("username", "u", nil, "username(s) or file(s) containing usernames")
	f.StringArrayP("password", "p", nil, "password(s) or file(s) containing passwords")
	f.StringArray("id", nil, "database credential ID(s) to use for authentication (ranges like 1-5 allowed)")
	f.Int("port", 0, "override the protocol port")
	f.Bool("continue-on-success", false, "continues authentication attempts even after successes")
	f.Bool("no-bruteforce", false, "no spray when using file for username and password (user1 => password1, user2 => password2)")
	f.Bool("use-kcache", false, "use Kerberos authentication from ccache file (KRB5CCNAME)")
	f.StringArrayP("module", "M", nil, "module to use")
	f.StringArrayP("module-option", "o", nil, "module options (KEY=VALUE)")
	f.BoolP("list-modules", "L", false, "list available modules")
	f.Bool("options", false, "display module options")
	f.String("server", "https", "use the selected server {http,https,smb}")
	f.String("server-host", consts.DefaultServerHost, "IP to bind the server to")
	f.Int("server-port", 0, "start the server on the specified port")
	f.String("connectback-host", "", "IP for the remote system to connect back to")
	f.Bool("ignore-opsec", false, "ignore the opsec safety check of modules")

	if def.Flags != nil {
		def.Flags(f)
	}
	return cmd
}

// buildRun turns parsed flags into a run configuration.
func buildRun(f *pflag.FlagSet, def *protocol.Definition, args []string) (*config.Run, error) {
	run := config.New()
	run.Protocol = def.Name
	run.Targets = args

	dir, err := getDataDir()
	if err != nil {
		return nil, err
	}
	run.DataDir = dir

	// Every flag read here is registered by newProtocolCommand.
	run.Threads, _ = f.GetInt("threads")
	timeoutSecs, _ := f.GetInt("timeout")
	run.RateLimit, _ = f.GetInt("rate")
	noProgress, _ := f.GetBool("no-progress")
	run.Auth.Usernames, _ = f.GetStringArray("username")
	run.Auth.Passwords, _ = f.GetStringArray("password")
	run.Auth.CredentialIDExprs, _ = f.GetStringArray("id")
	run.Auth.Port, _ = f.GetInt("port")
	run.Auth.ContinueOnSuccess, _ = f.GetBool("continue-on-success")
	run.Auth.NoBruteforce, _ = f.GetBool("no-bruteforce")
	run.Auth.UseKcache, _ = f.GetBool("use-kcache")
	run.Modules.Names, _ = f.GetStringArray("module")
	rawOptions, _ := f.GetStringArray("module-option")
	run.Modules.List, _ = f.GetBool("list-modules")
	run.Modules.ShowOptions, _ = f.GetBool("options")
	serverKind, _ := f.GetString("server")
	run.Server.Port, _ = f.GetInt("server-port")
	run.Server.ConnectbackHost, _ = f.GetString("connectback-host")
	run.Policy.IgnoreOpsec, _ = f.GetBool("ignore-opsec")
	run.Timeout = time.Duration(timeoutSecs) * time.Second
	run.Server.Kind = strings.ToLower(serverKind)

	applyConfigDefaults(f, run)

	// server-host may have been filled from the config file.
	run.Server.Host, _ = f.GetString("server-host")

	opts, err := parseModuleOptions(rawOptions)
	if err != nil {
		return nil, err
	}
	run.Modules.Options = opts

	if def.Bind != nil {
		if err := def.Bind(f, run); err != nil {
			return nil, err
		}
	}

	run.Progress = !noProgress && stdoutInteractive()
	run.Policy.NonInteractive = !stdinInteractive()
	if run.Threads < 1 {
		run.Threads = 1
	}
	return run, nil
}

// parseModuleOptions splits KEY=VALUE pairs. Keys are case-insensitive and
// stored upper-cased.
func parseModuleOptions(raw []string) (map[string]string, error) {
	opts := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %w", sharedErrors.ErrInvalidModuleOption, &InvalidModuleOptionError{Value: kv})
		}
		opts[strings.ToUpper(key)] = value
	}
	return opts, nil
}

func runProtocol(run *config.Run) error {
	log := logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.With("run_id", run.ID, "protocol", run.Protocol)

	container, err := application.NewContainer(run.DataDir, display.NewConsole(stdout), log, newPrompter())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(stdout, "\n%s Received %s, waiting for running threads...\n", colorWarn("!"), sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return container.Orchestrator.Run(ctx, run)
}
