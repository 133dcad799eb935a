package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizsmith/quizsmith-backend/internal/app"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the content store with the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.FromEnv()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())
		report, err := a.Questions.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created=%d updated=%d skipped=%d orphaned=%d\n",
			report.Created, report.Updated, report.Skipped, report.Orphaned)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.FromEnv()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())
		if err := a.DB.AutoMigrateAll(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var syncExamplesCmd = &cobra.Command{
	Use:   "sync-examples",
	Short: "Embed the example corpus and push it into the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.FromEnv()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())
		if err := a.WithGeneration(cmd.Context()); err != nil {
			return err
		}
		return a.Retriever.Sync(cmd.Context())
	},
}

func readImage(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	return raw, nil
}
