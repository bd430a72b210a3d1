package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-enroll/internal/biometric"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity-id> <image>...",
	Short: "Enroll face images for an identity",
	Long: `Enroll one or more face images for an identity.

Each image must contain exactly one face of sufficient quality. Images that
fail a check are reported with feedback and skipped; the remaining images
are still enrolled.

Examples:
  face-enroll enroll alice front.jpg
  face-enroll enroll alice front.jpg left.jpg right.jpg --json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identityID := args[0]
	jsonOutput := mustGetBool(cmd, "json")

	images, err := readImages(args[1:])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(images) == 1 {
		res, err := a.engine.Enroll(ctx, identityID, images[0])
		if res != nil {
			if jsonOutput {
				if jerr := printJSON(res); jerr != nil {
					return jerr
				}
			} else {
				printEnrollResult(args[1], res)
			}
		}
		return err
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	res, err := a.engine.EnrollBatchWithProgress(ctx, identityID, images, func(*biometric.EnrollResult) {
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if res == nil {
		return err
	}

	if jsonOutput {
		if jerr := printJSON(res); jerr != nil {
			return jerr
		}
		return err
	}
	for i := range res.Results {
		printEnrollResult(args[i+1], &res.Results[i])
	}
	fmt.Printf("\n%s\n", res.Message)
	return err
}

func printEnrollResult(name string, res *biometric.EnrollResult) {
	if res.Success {
		fmt.Printf("  [ok]   %s: quality %.2f, pose %s (%d embeddings)\n",
			name, res.QualityScore, res.PoseCategory, res.EncodingsCount)
		return
	}
	fmt.Printf("  [fail] %s: %s\n", name, res.Message)
	if res.Feedback != nil {
		for _, issue := range res.Feedback.Issues {
			fmt.Printf("         - %s\n", issue)
		}
		for _, s := range res.Feedback.Suggestions {
			fmt.Printf("         > %s\n", s)
		}
	}
}
