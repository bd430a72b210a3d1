package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Identify the face in an image",
	Long: `Match the single face in an image against all enrolled identities.

A miss or an ambiguous match is reported, not treated as a failure.

Example:
  face-enroll recognize visitor.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "List the identities closest to the face in an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	rootCmd.AddCommand(searchCmd)

	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	searchCmd.Flags().Int("k", 5, "Number of identities to return")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Recognize(ctx, data)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	if !res.Matched {
		fmt.Println(res.Message)
		if res.Ambiguous {
			fmt.Printf("  Candidates: %s, %s (distance %.4f)\n", res.IdentityID, res.RunnerUpID, res.Distance)
		}
		return nil
	}
	fmt.Printf("Matched: %s\n", res.IdentityID)
	fmt.Printf("  Confidence: %.1f%%\n", res.Confidence*100)
	fmt.Printf("  Distance:   %.4f (threshold %.2f, via %s)\n", res.Distance, res.Threshold, res.Source)
	if res.Gap != nil {
		fmt.Printf("  Gap:        %.4f to %s\n", *res.Gap, res.RunnerUpID)
	}
	if res.LivenessScore != nil {
		fmt.Printf("  Liveness:   %.2f\n", *res.LivenessScore)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	k := mustGetInt(cmd, "k")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, appOptions{withIndex: true})
	if err != nil {
		return err
	}
	defer a.Close()

	matches, err := a.engine.SearchIdentities(ctx, data, k)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(matches)
	}
	if len(matches) == 0 {
		fmt.Println("No enrolled identities")
		return nil
	}
	for i, m := range matches {
		fmt.Printf("%2d. %-30s distance %.4f\n", i+1, m.IdentityID, m.Distance)
	}
	return nil
}
