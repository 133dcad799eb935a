package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "quizsmith",
	Short:         "AI-assisted question authoring backend",
	Long:          "Quizsmith generates, stores, and reconciles code-backed engineering questions.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(runScriptCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncExamplesCmd)
}

func main() {
	// Local development reads .env; a missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
