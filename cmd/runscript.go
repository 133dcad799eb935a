package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizsmith/quizsmith-backend/internal/app"
	"github.com/quizsmith/quizsmith-backend/internal/sandbox"
)

var (
	runScriptLanguage string
	runScriptTimeout  time.Duration
	runScriptTesting  bool
)

var runScriptCmd = &cobra.Command{
	Use:   "run-script <path>",
	Short: "Execute a server script in the sandbox and print its result",
	Args:  cobra.ExactArgs(1),
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

		result, err := a.Sandbox.Run(cmd.Context(), args[0], runScriptLanguage, sandbox.Options{
			Timeout:     runScriptTimeout,
			TestingMode: runScriptTesting,
		})
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !result.Success {
			return fmt.Errorf("script failed: %s", result.Error)
		}
		return nil
	},
}

func init() {
	runScriptCmd.Flags().StringVar(&runScriptLanguage, "lang", sandbox.LanguageJavaScript, "script language (javascript or python)")
	runScriptCmd.Flags().DurationVar(&runScriptTimeout, "timeout", 0, "execution timeout (default from SANDBOX_TIMEOUT)")
	runScriptCmd.Flags().BoolVar(&runScriptTesting, "testing-mode", false, "run with the testing-mode flag set")
}
