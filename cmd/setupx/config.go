// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"setupx-cli/internal/config"
	"setupx-cli/internal/issue"
)

// newConfigCommand creates the `setupx config` command tree.
func newConfigCommand(app *App, cfgFile *string) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage setupx configuration",
		Long: `Manage setupx configuration.

Configuration is stored in:
  - Linux: ~/.config/setupx/config.cue
  - macOS: ~/Library/Application Support/setupx/config.cue
  - Windows: %APPDATA%\setupx\config.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, *cfgFile)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), app, args[0], args[1])
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output raw configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: *cfgFile})
			if err != nil {
				return err
			}

			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, cfgFile string) error {
	cfg, err := app.Config.Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		renderIssue(app.stderr, issue.ConfigLoadFailedId, "dark")
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)

	// Each call derives the path from the standard config directory; the
	// provider does not cache resolved paths.
	if cfgDir, dirErr := config.ConfigDir(); dirErr == nil {
		fmt.Fprintf(app.stdout, "%s: %s/%s.%s\n", keyStyle.Render("Config file"), cfgDir, config.ConfigFileName, config.ConfigFileExt)
	} else {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(app.stdout)

	interpreters := make([]string, 0, len(cfg.Interpreters))
	for _, in := range cfg.Interpreters {
		interpreters = append(interpreters, in.String())
	}

	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("interpreters"), valueStyle.Render(strings.Join(interpreters, ", ")))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("script"), valueStyle.Render(cfg.Script))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("artifact"), valueStyle.Render(cfg.Artifact))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("timeout"), valueStyle.Render(cfg.Timeout.String()))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("grace"), valueStyle.Render(cfg.Grace.String()))

	fmt.Fprintln(app.stdout)
	fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render("sandbox"))
	fmt.Fprintf(app.stdout, "  provider: %s\n", valueStyle.Render(cfg.Sandbox.Provider.String()))
	fmt.Fprintf(app.stdout, "  engine: %s\n", valueStyle.Render(cfg.Sandbox.Engine.String()))
	fmt.Fprintf(app.stdout, "  image: %s\n", valueStyle.Render(cfg.Sandbox.Image))
	fmt.Fprintf(app.stdout, "  user: %s\n", valueStyle.Render(cfg.Sandbox.User))
	if cfg.Sandbox.WorkRoot != "" {
		fmt.Fprintf(app.stdout, "  work_root: %s\n", valueStyle.Render(cfg.Sandbox.WorkRoot))
	}
	fmt.Fprintf(app.stdout, "  keep_copies: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.Sandbox.KeepCopies)))

	if cfg.Hooks.Prepare != "" {
		fmt.Fprintln(app.stdout)
		fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render("hooks"))
		fmt.Fprintf(app.stdout, "  prepare: %s\n", valueStyle.Render(cfg.Hooks.Prepare))
	}

	fmt.Fprintln(app.stdout)
	fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(app.stdout, "  color_scheme: %s\n", valueStyle.Render(cfg.UI.ColorScheme.String()))
	fmt.Fprintf(app.stdout, "  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))

	return nil
}

func initConfig(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	if err = config.CreateDefaultConfig(); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Created default configuration at %s/%s.%s\n",
		SuccessStyle.Render("✓"), cfgDir, config.ConfigFileName, config.ConfigFileExt)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s/%s.%s\n", cfgDir, config.ConfigFileName, config.ConfigFileExt)
	return nil
}

func setConfigValue(ctx context.Context, app *App, key, value string) error {
	cfg, err := app.Config.Load(ctx, config.LoadOptions{})
	if err != nil {
		return err
	}

	switch key {
	case "interpreters":
		cfg.Interpreters = nil
		for _, in := range strings.Split(value, ",") {
			cfg.Interpreters = append(cfg.Interpreters, config.Interpreter(strings.TrimSpace(in)))
		}

	case "script":
		cfg.Script = value

	case "artifact":
		cfg.Artifact = value

	case "timeout":
		cfg.Timeout = config.Duration(value)

	case "grace":
		cfg.Grace = config.Duration(value)

	case "sandbox.provider":
		cfg.Sandbox.Provider = config.SandboxProvider(value)

	case "sandbox.engine":
		cfg.Sandbox.Engine = config.EngineChoice(value)

	case "sandbox.image":
		cfg.Sandbox.Image = value

	case "sandbox.user":
		cfg.Sandbox.User = value

	case "sandbox.work_root":
		cfg.Sandbox.WorkRoot = value

	case "sandbox.keep_copies":
		cfg.Sandbox.KeepCopies = value == "true" || value == "1"

	case "hooks.prepare":
		cfg.Hooks.Prepare = value

	case "ui.color_scheme":
		cfg.UI.ColorScheme = config.ColorScheme(value)

	case "ui.verbose":
		cfg.UI.Verbose = value == "true" || value == "1"

	default:
		return fmt.Errorf("unknown configuration key: %s\nValid keys: interpreters, script, artifact, timeout, grace, sandbox.provider, sandbox.engine, sandbox.image, sandbox.user, sandbox.work_root, sandbox.keep_copies, hooks.prepare, ui.color_scheme, ui.verbose", key)
	}

	if ok, errs := cfg.IsValid(); !ok {
		return errors.Join(errs...)
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}
