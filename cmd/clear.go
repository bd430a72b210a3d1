package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear <identity-id> [embedding-id]",
	Short: "Remove enrollment data for an identity",
	Long: `Remove every stored embedding of an identity, or a single embedding when
an embedding ID is given. The identity centroid is recomputed or removed.

Examples:
  face-enroll clear alice
  face-enroll clear alice 7b0c2f1e-3f55-4a55-9f0e-1c2d3e4f5a6b --yes`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runClear(cmd *cobra.Command, args []string) error {
	identityID := args[0]
	skipConfirm := mustGetBool(cmd, "yes")

	prompt := fmt.Sprintf("Remove all enrollment data for %s? [y/N] ", identityID)
	if len(args) == 2 {
		prompt = fmt.Sprintf("Remove embedding %s of %s? [y/N] ", args[1], identityID)
	}
	if !skipConfirm && !confirmAction(prompt) {
		fmt.Println("Aborted")
		return nil
	}

	ctx := context.Background()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 2 {
		remaining, err := a.engine.DeleteEmbedding(ctx, identityID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted embedding %s (%d remaining)\n", args[1], remaining)
		return nil
	}

	removed, err := a.engine.ClearEnrollment(ctx, identityID)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d embeddings for %s\n", removed, identityID)
	return nil
}
