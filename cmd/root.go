package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/RomanRII/NetExec/internal/application"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	verbose bool
	debug   bool
	logFile string

	logger *zap.SugaredLogger
	// stdout receives operator-facing output.
	stdout io.Writer = os.Stdout
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nxc",
		Short:         "Network execution tool: spray credentials and run modules across many hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loadConfigFile()

			if logFile == "" {
				logFile = viper.GetString("log_file")
			}
			l, err := newLogger(verbose, debug, logFile)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = l
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return sharedErrors.ErrMissingProtocol
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $NXC_PATH/nxc.yaml)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose output")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug level information")
	root.PersistentFlags().StringVar(&logFile, "log", "", "export result into a custom file")

	for _, def := range application.Protocols() {
		root.AddCommand(newProtocolCommand(def))
	}
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfigFile() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir, err := getDataDir(); err == nil {
		viper.AddConfigPath(dir)
		viper.SetConfigName("nxc")
		viper.SetConfigType("yaml")
	}
	_ = viper.ReadInConfig()
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if code := exitCode(err); code != 0 {
		fmt.Fprintln(os.Stderr, colorError("[-]"), describeError(err))
		os.Exit(code)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// executeArgs runs a fresh command tree; used by tests.
func executeArgs(args ...string) error {
	cfgFile, verbose, debug, logFile = "", false, false, ""
	viper.Reset()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(io.Discard)
	return root.Execute()
}
