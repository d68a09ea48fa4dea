package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via -ldflags)
// These default values indicate a development build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			detailed, _ := cmd.Flags().GetBool("detailed")
			if detailed {
				fmt.Fprintf(stdout, `nxc Version Information:
  Version:    %s
  Git Commit: %s
  Build Date: %s
  Go Version: %s
  OS/Arch:    %s/%s
`, Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
				return
			}
			fmt.Fprintf(stdout, "nxc version %s\n", Version)
		},
	}
	cmd.Flags().Bool("detailed", false, "Show detailed version information")
	return cmd
}
