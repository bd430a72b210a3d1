package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "face-enroll",
	Short: "Face enrollment and recognition engine",
	Long: `Face Enroll stores quality-checked face embeddings per identity and
matches new face images against them.

A face detector service (InsightFace compatible HTTP API) produces the
embeddings. Enrollments are stored in PostgreSQL (DATABASE_URL) or in a
local SQLite file (SQLITE_PATH).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
