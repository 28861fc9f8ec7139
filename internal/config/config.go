// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"setupx-cli/internal/issue"
	"setupx-cli/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "setupx"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"

	// maxConfigFileSize caps config files to keep a corrupted or hostile
	// file from exhausting memory during CUE compilation.
	maxConfigFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// configDirOverride redirects ConfigDir for tests. os.UserHomeDir ignores a
// rewritten HOME on some platforms, so pointing HOME at a temp dir is not
// enough to isolate a test's config.
var configDirOverride string

// SetConfigDirOverride pins the config directory to dir until Reset. Test
// use only.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears the config directory override. Pair with SetConfigDirOverride
// via t.Cleanup.
func Reset() {
	configDirOverride = ""
}

// ConfigDir returns the setupx configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. Callers that want caching can wrap this function.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("interpreters", interpreterStrings(defaults.Interpreters))
	v.SetDefault("script", defaults.Script)
	v.SetDefault("artifact", defaults.Artifact)
	v.SetDefault("timeout", string(defaults.Timeout))
	v.SetDefault("grace", string(defaults.Grace))
	v.SetDefault("sandbox.provider", string(defaults.Sandbox.Provider))
	v.SetDefault("sandbox.engine", string(defaults.Sandbox.Engine))
	v.SetDefault("sandbox.image", defaults.Sandbox.Image)
	v.SetDefault("sandbox.user", defaults.Sandbox.User)
	v.SetDefault("sandbox.work_root", defaults.Sandbox.WorkRoot)
	v.SetDefault("sandbox.keep_copies", defaults.Sandbox.KeepCopies)
	v.SetDefault("hooks.prepare", defaults.Hooks.Prepare)
	v.SetDefault("ui.color_scheme", string(defaults.UI.ColorScheme))
	v.SetDefault("ui.verbose", defaults.UI.Verbose)

	resolvedPath := ""

	// If a custom config file path is set via --config flag, use it exclusively.
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'setupx config show' to see default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", configSyntaxError(opts.ConfigFilePath, err)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", configSyntaxError(cuePath, err)
			}
			resolvedPath = cuePath
		} else {
			// Also check current directory
			localCuePath := ConfigFileName + "." + ConfigFileExt
			if fileExists(localCuePath) {
				if err := loadCUEIntoViper(v, localCuePath); err != nil {
					return nil, "", configSyntaxError(localCuePath, err)
				}
				resolvedPath = localCuePath
			}
			// If no config file found, use defaults (no error)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate constraints the CUE schema cannot express, e.g. that
	// durations are positive and file names are not paths.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check interpreter names, durations, and the sandbox block").
			WithSuggestion("Use 'setupx config show' to see the effective configuration").
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func configSyntaxError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("See 'setupx config --help' for configuration options").
		Wrap(err).
		BuildError()
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper. The decode target is a map rather than
// a struct so Viper keeps its defaults for omitted fields.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	// Unify with schema to validate against the #Config definition.
	// Concrete(false) because all config fields are optional.
	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	// Merge into Viper (preserves defaults for omitted fields)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// formatCUEError flattens a CUE error into "<file>: <field path>: <message>"
// lines so validation failures point at the offending field.
func formatCUEError(err error, path string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Error()
		if fieldPath := strings.Join(cueerrors.Path(e), "."); fieldPath != "" {
			msg = strings.TrimSpace(strings.TrimPrefix(msg, fieldPath+":"))
			msg = fieldPath + ": " + msg
		}
		lines = append(lines, msg)
	}

	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", path, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", path, strings.Join(lines, "\n  "))
}

func interpreterStrings(interpreters []Interpreter) []string {
	out := make([]string, len(interpreters))
	for i, interpreter := range interpreters {
		out[i] = string(interpreter)
	}
	return out
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig creates a default config file if it doesn't exist
func CreateDefaultConfig() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return nil // File exists
	}

	return os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644)
}

// Save writes the current configuration to file
func Save(cfg *Config) error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// setupx configuration file\n\n")

	if len(cfg.Interpreters) > 0 {
		sb.WriteString("interpreters: [")
		for i, interpreter := range cfg.Interpreters {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%q", string(interpreter))
		}
		sb.WriteString("]\n")
	}

	fmt.Fprintf(&sb, "script: %q\n", cfg.Script)
	fmt.Fprintf(&sb, "artifact: %q\n", cfg.Artifact)
	fmt.Fprintf(&sb, "timeout: %q\n", string(cfg.Timeout))
	fmt.Fprintf(&sb, "grace: %q\n", string(cfg.Grace))

	sb.WriteString("\nsandbox: {\n")
	fmt.Fprintf(&sb, "\tprovider: %q\n", string(cfg.Sandbox.Provider))
	fmt.Fprintf(&sb, "\tengine: %q\n", string(cfg.Sandbox.Engine))
	fmt.Fprintf(&sb, "\timage: %q\n", cfg.Sandbox.Image)
	fmt.Fprintf(&sb, "\tuser: %q\n", cfg.Sandbox.User)
	if cfg.Sandbox.WorkRoot != "" {
		fmt.Fprintf(&sb, "\twork_root: %q\n", cfg.Sandbox.WorkRoot)
	}
	fmt.Fprintf(&sb, "\tkeep_copies: %v\n", cfg.Sandbox.KeepCopies)
	sb.WriteString("}\n")

	if cfg.Hooks.Prepare != "" {
		sb.WriteString("\nhooks: {\n")
		fmt.Fprintf(&sb, "\tprepare: %q\n", cfg.Hooks.Prepare)
		sb.WriteString("}\n")
	}

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", string(cfg.UI.ColorScheme))
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}
