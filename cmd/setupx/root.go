// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"setupx-cli/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand creates the `setupx` root command with all subcommands.
func newRootCommand(app *App) *cobra.Command {
	var (
		verbose bool
		cfgFile string
	)

	rootCmd := &cobra.Command{
		Use:   "setupx",
		Short: "Sandboxed build-metadata extraction for Python packages",
		Long: TitleStyle.Render("setupx") + SubtitleStyle.Render(" - sandboxed build-metadata extraction") + `

setupx rewrites an untrusted package's setup.py so that the parameters
passed to setup() are captured, runs the rewritten script in an isolated
sandbox (container or confined host process) with a hard timeout and
interpreter fallback, and recovers the resulting JSON metadata artifact.

The source tree is never modified; all execution happens against a
disposable private copy.

` + SubtitleStyle.Render("Examples:") + `
  setupx extract ./flask-3.0.0         Extract metadata from a source tree
  setupx fetch requests --extract      Download an sdist and extract it
  setupx rewrite ./setup.py            Show the instrumented script
  setupx config show                   Show current configuration`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")

	rootCmd.AddCommand(newExtractCommand(app, &verbose, &cfgFile))
	rootCmd.AddCommand(newFetchCommand(app, &verbose, &cfgFile))
	rootCmd.AddCommand(newRewriteCommand(app))
	rootCmd.AddCommand(newConfigCommand(app, &cfgFile))
	rootCmd.AddCommand(newCompletionCommand())

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute builds the production App and runs the root command.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	app := NewApp(Dependencies{})

	// Use fang.Execute for enhanced Cobra styling.
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version.
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
