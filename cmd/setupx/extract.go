// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"setupx-cli/internal/config"
	"setupx-cli/internal/container"
	"setupx-cli/internal/extract"
	"setupx-cli/internal/issue"
	"setupx-cli/internal/sandbox"
)

// extractFlags are the extraction settings shared by `extract` and
// `fetch --extract`. Explicitly set flags override the loaded config.
type extractFlags struct {
	script       string
	artifactName string
	interpreters []string
	timeout      string
	grace        string
	provider     string
	engine       string
	image        string
	user         string
	workRoot     string
	keep         bool
	staticFirst  bool
	env          []string
	output       string
}

func (f *extractFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.script, "script", "", "build script file name (default from config)")
	flags.StringVar(&f.artifactName, "artifact", "", "metadata artifact file name (default from config)")
	flags.StringSliceVar(&f.interpreters, "interpreter", nil, "interpreter candidates in fallback order (repeatable)")
	flags.StringVar(&f.timeout, "timeout", "", `per-attempt timeout, e.g. "60s"`)
	flags.StringVar(&f.grace, "grace", "", "grace period between termination and kill")
	flags.StringVar(&f.provider, "provider", "", `sandbox provider: "container" or "process"`)
	flags.StringVar(&f.engine, "engine", "", `container engine: "auto", "docker" or "podman"`)
	flags.StringVar(&f.image, "image", "", "container image scripts run in")
	flags.StringVar(&f.user, "user", "", "uid[:gid] untrusted code runs as")
	flags.StringVar(&f.workRoot, "work-root", "", "directory for disposable source copies")
	flags.BoolVar(&f.keep, "keep", false, "keep the disposable copy for debugging")
	flags.BoolVar(&f.staticFirst, "static-first", false, "consult pyproject.toml before running anything")
	flags.StringArrayVar(&f.env, "env", nil, "extra KEY=VALUE environment for the script (repeatable)")
	flags.StringVarP(&f.output, "output", "o", "", "write the artifact JSON to a file instead of stdout")
}

// apply overlays explicitly set flags onto cfg and revalidates the result.
func (f *extractFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("script") {
		cfg.Script = f.script
	}
	if flags.Changed("artifact") {
		cfg.Artifact = f.artifactName
	}
	if flags.Changed("interpreter") {
		cfg.Interpreters = nil
		for _, in := range f.interpreters {
			cfg.Interpreters = append(cfg.Interpreters, config.Interpreter(in))
		}
	}
	if flags.Changed("timeout") {
		cfg.Timeout = config.Duration(f.timeout)
	}
	if flags.Changed("grace") {
		cfg.Grace = config.Duration(f.grace)
	}
	if flags.Changed("provider") {
		cfg.Sandbox.Provider = config.SandboxProvider(f.provider)
	}
	if flags.Changed("engine") {
		cfg.Sandbox.Engine = config.EngineChoice(f.engine)
	}
	if flags.Changed("image") {
		cfg.Sandbox.Image = f.image
	}
	if flags.Changed("user") {
		cfg.Sandbox.User = f.user
	}
	if flags.Changed("work-root") {
		cfg.Sandbox.WorkRoot = f.workRoot
	}
	if flags.Changed("keep") {
		cfg.Sandbox.KeepCopies = f.keep
	}

	if ok, errs := cfg.IsValid(); !ok {
		return errors.Join(errs...)
	}
	return nil
}

// newExtractCommand creates the `setupx extract` command.
func newExtractCommand(app *App, verbose *bool, cfgFile *string) *cobra.Command {
	f := &extractFlags{}

	extractCmd := &cobra.Command{
		Use:   "extract <source-dir>",
		Short: "Extract build metadata from a source tree",
		Long: `Extract build metadata from an unpacked source distribution.

The build script (usually setup.py) is rewritten so that the parameters
passed to setup() are captured as JSON, then run inside the configured
sandbox under a hard timeout. Interpreter candidates are tried in order
until one succeeds. The recovered artifact is written to stdout.

Exit codes:
  0  an attempt succeeded and the artifact was readable
  1  every interpreter candidate failed
  2  usage or configuration error
  3  the script finished but produced no artifact`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), app, *cfgFile)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			return runPipeline(cmd.Context(), app, cfg, args[0], f, *verbose || cfg.UI.Verbose)
		},
	}

	f.register(extractCmd)
	return extractCmd
}

// loadConfig loads configuration, rendering a config issue card on failure.
func loadConfig(ctx context.Context, app *App, cfgFile string) (*config.Config, error) {
	cfg, err := app.Config.Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		renderIssue(app.stderr, issue.ConfigLoadFailedId, "dark")
		fmt.Fprintln(app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, false))
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}
	return cfg, nil
}

// runPipeline performs one extraction end to end and maps the outcome to
// the exit code contract. It is shared by `extract` and `fetch --extract`.
func runPipeline(ctx context.Context, app *App, cfg *config.Config, sourceDir string, f *extractFlags, verbose bool) error {
	style := styleFor(cfg)

	req, err := buildRequest(cfg, sourceDir, f)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	if len(req.Interpreters) == 0 {
		renderIssue(app.stderr, issue.InterpreterListEmptyId, style)
		return &ExitError{Code: ExitUsage, Err: errors.New("no interpreter candidates configured")}
	}

	provider, err := app.Sandbox.New(ctx, cfg.Sandbox)
	if err != nil {
		var notAvailable *container.ErrEngineNotAvailable
		if errors.As(err, &notAvailable) {
			renderIssue(app.stderr, issue.ContainerEngineNotFoundId, style)
		}
		fmt.Fprintln(app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: ExitUsage, Err: err}
	}

	outcome, err := app.Extract(ctx, provider, req)
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrScriptMissing):
			renderIssue(app.stderr, issue.BuildScriptNotFoundId, style)
		case errors.Is(err, sandbox.ErrRootRefused):
			renderIssue(app.stderr, issue.RootExecutionRefusedId, style)
		case errors.Is(err, extract.ErrSandboxSetup):
			renderIssue(app.stderr, issue.SandboxSetupFailedId, style)
		}
		fmt.Fprintln(app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if outcome.Report != nil && (verbose || outcome.Report.Exhausted()) {
		renderReport(app.stderr, outcome.Report, verbose)
	}
	if outcome.SandboxDir != "" {
		fmt.Fprintf(app.stderr, "%s %s\n", SubtitleStyle.Render("Kept sandbox copy:"), outcome.SandboxDir)
	}

	switch {
	case outcome.Report != nil && outcome.Report.Exhausted():
		renderIssue(app.stderr, issue.ExtractionExhaustedId, style)
		return &ExitError{Code: ExitExhausted, Err: errors.New("all interpreter candidates failed")}
	case outcome.Artifact == nil:
		renderIssue(app.stderr, issue.ArtifactMissingId, style)
		if outcome.ArtifactErr != nil {
			fmt.Fprintln(app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(outcome.ArtifactErr, verbose))
		}
		return &ExitError{Code: ExitArtifactAbsent, Err: outcome.ArtifactErr}
	}

	if verbose && outcome.Static != nil {
		fmt.Fprintln(app.stderr, SubtitleStyle.Render("Satisfied statically from pyproject.toml"))
	}

	return writeArtifact(app, f.output, outcome.Artifact.Raw)
}

// buildRequest resolves the validated config into an extraction request.
func buildRequest(cfg *config.Config, sourceDir string, f *extractFlags) (extract.Request, error) {
	timeout, err := cfg.Timeout.Value()
	if err != nil {
		return extract.Request{}, err
	}
	grace, err := cfg.Grace.Value()
	if err != nil {
		return extract.Request{}, err
	}
	env, err := parseEnvPairs(f.env)
	if err != nil {
		return extract.Request{}, err
	}

	interpreters := make([]string, 0, len(cfg.Interpreters))
	for _, in := range cfg.Interpreters {
		interpreters = append(interpreters, in.String())
	}

	return extract.Request{
		SourceDir:    sourceDir,
		Script:       cfg.Script,
		Artifact:     cfg.Artifact,
		Interpreters: interpreters,
		Timeout:      timeout,
		Grace:        grace,
		Env:          env,
		PrepareHook:  cfg.Hooks.Prepare,
		WorkRoot:     cfg.Sandbox.WorkRoot,
		Keep:         cfg.Sandbox.KeepCopies,
		StaticFirst:  f.staticFirst,
	}, nil
}

// parseEnvPairs turns repeated KEY=VALUE flags into an environment map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env value %q: want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

// writeArtifact emits the raw artifact bytes to stdout, or to the file the
// --output flag names.
func writeArtifact(app *App, output string, raw []byte) error {
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		raw = append(raw, '\n')
	}

	if output == "" {
		_, err := app.stdout.Write(raw)
		return err
	}

	if err := os.WriteFile(output, raw, 0o644); err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	fmt.Fprintf(app.stderr, "%s Wrote %s\n", SuccessStyle.Render("✓"), output)
	return nil
}
