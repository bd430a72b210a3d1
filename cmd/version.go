package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-enroll/internal/config"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and decision policy information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("face-enroll %s (%s)\n", Version, runtime.Version())
		fmt.Printf("  Commit: %s\n", CommitSHA)
		fmt.Printf("  Built:  %s\n", BuildDate)

		policy, err := config.Load().LoadPolicy()
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		fmt.Printf("  Policy: v%d\n", policy.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
