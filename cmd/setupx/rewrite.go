// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"setupx-cli/internal/issue"
	"setupx-cli/internal/rewrite"
)

// newRewriteCommand creates the `setupx rewrite` command, a debugging aid
// that shows exactly what would run inside the sandbox.
func newRewriteCommand(app *App) *cobra.Command {
	var artifactName string

	rewriteCmd := &cobra.Command{
		Use:   "rewrite <script>",
		Short: "Print the instrumented build script",
		Long: `Rewrite a build script the way the extraction pipeline does and print
the result.

The instrumentation shadows the real setuptools/distutils setup() with a
recorder that serializes its keyword arguments to a JSON artifact. Future
imports, encoding cookies, and shebangs keep their mandatory position at
the top of the file.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return &ExitError{
					Code: ExitUsage,
					Err:  issue.WrapWithContext(err, "read build script", args[0]),
				}
			}

			_, err = app.stdout.Write(rewrite.Rewrite(src, artifactName))
			return err
		},
	}

	rewriteCmd.Flags().StringVar(&artifactName, "artifact", rewrite.DefaultArtifactName, "artifact file name baked into the instrumentation")

	return rewriteCmd
}
