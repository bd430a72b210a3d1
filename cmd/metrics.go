package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics <identity-id>",
	Short: "Show enrollment metrics for an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)

	metricsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.engine.EnrollmentMetrics(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(m)
	}

	fmt.Printf("Identity: %s\n", m.IdentityID)
	fmt.Printf("  Embeddings:     %d (%d adaptive)\n", m.Count, m.AdaptiveCount)
	fmt.Printf("  Avg quality:    %.2f\n", m.AvgQuality)
	fmt.Printf("  Pose coverage:  %.0f%% %v\n", m.PoseCoverageScore*100, m.PoseCoverage)
	if len(m.MissingPoses) > 0 {
		fmt.Printf("  Missing poses:  %v\n", m.MissingPoses)
	}
	fmt.Printf("  Complete:       %t\n", m.EnrollmentComplete)
	if m.NeedsReEnrollment {
		fmt.Printf("  Re-enrollment needed: %s\n", m.Reason)
	}
	return nil
}
