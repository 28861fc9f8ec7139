// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"setupx-cli/internal/archive"
	"setupx-cli/pkg/pypi"
)

// newFetchCommand creates the `setupx fetch` command.
func newFetchCommand(app *App, verbose *bool, cfgFile *string) *cobra.Command {
	f := &extractFlags{}
	var (
		dest       string
		indexURL   string
		runExtract bool
	)

	fetchCmd := &cobra.Command{
		Use:   "fetch <name>[==version]",
		Short: "Download and unpack a source distribution",
		Long: `Download a project's source distribution from the package index and
unpack it into a directory.

The index's JSON API resolves the latest release unless a version is
pinned with ==. Source distributions are preferred over built ones, and
downloads are verified against the index's published sha256 digest.

With --extract the unpacked tree is fed straight into the extraction
pipeline, as if 'setupx extract' had been run on it.`,
		Example: `  setupx fetch requests
  setupx fetch flask==3.0.0 --dest /tmp/pkgs
  setupx fetch six --extract`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, version := splitRequirement(args[0])

			var opts []pypi.ClientOption
			if indexURL != "" {
				opts = append(opts, pypi.WithBaseURL(indexURL))
			}
			client := pypi.NewClient(opts...)

			project, err := client.Release(ctx, name, version)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			file, err := project.PreferredFile()
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			tmp, err := os.MkdirTemp("", "setupx-fetch-")
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			defer os.RemoveAll(tmp)

			archivePath := filepath.Join(tmp, file.Filename)
			if err := client.Download(ctx, file, archivePath); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			fmt.Fprintf(app.stderr, "%s Downloaded %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(file.Filename))

			// Unpack into a fresh per-distribution directory. Extracting
			// straight into --dest would mix the tree with whatever already
			// lives there and the sdist's root could no longer be identified.
			extractDir := filepath.Join(dest, archive.StripSuffix(file.Filename))
			if err := os.MkdirAll(extractDir, 0o755); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			sourceDir, err := archive.Extract(archivePath, extractDir)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			if !runExtract {
				fmt.Fprintln(app.stdout, sourceDir)
				return nil
			}

			cfg, err := loadConfig(ctx, app, *cfgFile)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			return runPipeline(ctx, app, cfg, sourceDir, f, *verbose || cfg.UI.Verbose)
		},
	}

	fetchCmd.Flags().StringVar(&dest, "dest", ".", "directory the source tree is unpacked into")
	fetchCmd.Flags().StringVar(&indexURL, "index-url", "", "package index base URL (default pypi.org)")
	fetchCmd.Flags().BoolVar(&runExtract, "extract", false, "run the extraction pipeline on the unpacked tree")
	f.register(fetchCmd)

	return fetchCmd
}

// splitRequirement splits "name==version" into its parts. A bare name
// resolves to the latest release.
func splitRequirement(arg string) (name, version string) {
	name, version, _ = strings.Cut(arg, "==")
	return strings.TrimSpace(name), strings.TrimSpace(version)
}
