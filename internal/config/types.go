// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProviderContainer runs scripts in disposable containers.
	ProviderContainer SandboxProvider = "container"
	// ProviderProcess runs scripts as host processes in their own process group.
	ProviderProcess SandboxProvider = "process"

	// EngineAuto picks whichever container engine is available.
	EngineAuto EngineChoice = "auto"
	// EngineDocker forces the Docker CLI.
	EngineDocker EngineChoice = "docker"
	// EnginePodman forces the Podman CLI.
	EnginePodman EngineChoice = "podman"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidSandboxProvider is returned when a SandboxProvider value is not recognized.
	ErrInvalidSandboxProvider = errors.New("invalid sandbox provider")
	// ErrInvalidEngineChoice is returned when an EngineChoice value is not recognized.
	ErrInvalidEngineChoice = errors.New("invalid engine choice")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidDuration is the sentinel error wrapped by InvalidDurationError.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidInterpreter is the sentinel error wrapped by InvalidInterpreterError.
	ErrInvalidInterpreter = errors.New("invalid interpreter")
	// ErrInvalidSandboxConfig is the sentinel error wrapped by InvalidSandboxConfigError.
	ErrInvalidSandboxConfig = errors.New("invalid sandbox config")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// SandboxProvider selects how untrusted scripts are isolated.
	SandboxProvider string

	// InvalidSandboxProviderError is returned when a SandboxProvider value is not
	// recognized. It wraps ErrInvalidSandboxProvider for errors.Is() compatibility.
	InvalidSandboxProviderError struct {
		Value SandboxProvider
	}

	// EngineChoice selects the container engine, or auto-detection.
	EngineChoice string

	// InvalidEngineChoiceError is returned when an EngineChoice value is not
	// recognized. It wraps ErrInvalidEngineChoice for errors.Is() compatibility.
	InvalidEngineChoiceError struct {
		Value EngineChoice
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// Duration is a Go duration string ("60s", "2m30s"). Kept as a string so
	// config files stay human-editable; Value() parses it.
	Duration string

	// InvalidDurationError is returned when a Duration does not parse or is
	// not positive. It wraps ErrInvalidDuration for errors.Is() compatibility.
	InvalidDurationError struct {
		Value Duration
	}

	// Interpreter names an interpreter binary, or a path to one.
	Interpreter string

	// InvalidInterpreterError is returned when an Interpreter value is empty
	// or whitespace-only. It wraps ErrInvalidInterpreter for errors.Is().
	InvalidInterpreterError struct {
		Value Interpreter
	}

	// InvalidSandboxConfigError is returned when a SandboxConfig has invalid fields.
	// It wraps ErrInvalidSandboxConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidSandboxConfigError struct {
		FieldErrors []error
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	// It wraps ErrInvalidUIConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Interpreters is the candidate order for interpreter fallback.
		Interpreters []Interpreter `json:"interpreters" mapstructure:"interpreters"`
		// Script is the build script file name inside the source tree.
		Script string `json:"script" mapstructure:"script"`
		// Artifact is the metadata file name the rewritten script produces.
		Artifact string `json:"artifact" mapstructure:"artifact"`
		// Timeout bounds each interpreter attempt.
		Timeout Duration `json:"timeout" mapstructure:"timeout"`
		// Grace is the window between graceful termination and kill.
		Grace Duration `json:"grace" mapstructure:"grace"`
		// Sandbox configures script isolation.
		Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`
		// Hooks configures optional shell hooks.
		Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`
		// UI configures the user interface.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// SandboxConfig configures script isolation.
	SandboxConfig struct {
		// Provider selects "container" or "process" isolation.
		Provider SandboxProvider `json:"provider" mapstructure:"provider"`
		// Engine selects the container engine ("auto", "docker", "podman").
		Engine EngineChoice `json:"engine" mapstructure:"engine"`
		// Image is the container image scripts run in.
		Image string `json:"image" mapstructure:"image"`
		// User is the uid[:gid] scripts run as inside containers, or the
		// identity to drop to for the process provider.
		User string `json:"user" mapstructure:"user"`
		// WorkRoot is where disposable copies are created; empty uses the
		// system temp directory.
		WorkRoot string `json:"work_root" mapstructure:"work_root"`
		// KeepCopies leaves disposable copies on disk for debugging.
		KeepCopies bool `json:"keep_copies" mapstructure:"keep_copies"`
	}

	// HooksConfig configures optional shell hooks.
	HooksConfig struct {
		// Prepare is a POSIX shell snippet run inside the private copy
		// before the script, e.g. to pre-generate version files.
		Prepare string `json:"prepare" mapstructure:"prepare"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// String returns the string representation of the SandboxProvider.
func (p SandboxProvider) String() string { return string(p) }

// IsValid returns whether the SandboxProvider is one of the defined providers,
// and a list of validation errors if it is not.
func (p SandboxProvider) IsValid() (bool, []error) {
	switch p {
	case ProviderContainer, ProviderProcess:
		return true, nil
	default:
		return false, []error{&InvalidSandboxProviderError{Value: p}}
	}
}

// Error implements the error interface for InvalidSandboxProviderError.
func (e *InvalidSandboxProviderError) Error() string {
	return fmt.Sprintf("invalid sandbox provider %q (valid: container, process)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidSandboxProviderError) Unwrap() error { return ErrInvalidSandboxProvider }

// String returns the string representation of the EngineChoice.
func (c EngineChoice) String() string { return string(c) }

// IsValid returns whether the EngineChoice is one of the defined choices,
// and a list of validation errors if it is not.
func (c EngineChoice) IsValid() (bool, []error) {
	switch c {
	case EngineAuto, EngineDocker, EnginePodman:
		return true, nil
	default:
		return false, []error{&InvalidEngineChoiceError{Value: c}}
	}
}

// Error implements the error interface for InvalidEngineChoiceError.
func (e *InvalidEngineChoiceError) Error() string {
	return fmt.Sprintf("invalid engine choice %q (valid: auto, docker, podman)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidEngineChoiceError) Unwrap() error { return ErrInvalidEngineChoice }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the string representation of the Duration.
func (d Duration) String() string { return string(d) }

// Value parses the duration. Invalid or non-positive values return
// InvalidDurationError.
func (d Duration) Value() (time.Duration, error) {
	parsed, err := time.ParseDuration(string(d))
	if err != nil || parsed <= 0 {
		return 0, &InvalidDurationError{Value: d}
	}
	return parsed, nil
}

// IsValid returns whether the Duration parses to a positive value,
// and a list of validation errors if it does not.
func (d Duration) IsValid() (bool, []error) {
	if _, err := d.Value(); err != nil {
		return false, []error{err}
	}
	return true, nil
}

// Error implements the error interface for InvalidDurationError.
func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("invalid duration %q: must be a positive Go duration like \"60s\"", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// String returns the string representation of the Interpreter.
func (i Interpreter) String() string { return string(i) }

// IsValid returns whether the Interpreter is non-empty and not
// whitespace-only, and a list of validation errors if it is not.
func (i Interpreter) IsValid() (bool, []error) {
	if strings.TrimSpace(string(i)) == "" {
		return false, []error{&InvalidInterpreterError{Value: i}}
	}
	return true, nil
}

// Error implements the error interface for InvalidInterpreterError.
func (e *InvalidInterpreterError) Error() string {
	return fmt.Sprintf("invalid interpreter %q: must be non-empty", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidInterpreterError) Unwrap() error { return ErrInvalidInterpreter }

// IsValid returns whether the SandboxConfig has valid fields.
// It delegates to Provider.IsValid() and Engine.IsValid(); the remaining
// string and bool fields need no validation.
func (c SandboxConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Provider.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Engine.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidSandboxConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidSandboxConfigError.
func (e *InvalidSandboxConfigError) Error() string {
	return fmt.Sprintf("invalid sandbox config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidSandboxConfig for errors.Is() compatibility.
func (e *InvalidSandboxConfigError) Unwrap() error { return ErrInvalidSandboxConfig }

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUIConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to each Interpreters entry, Timeout, Grace, Sandbox, and UI.
// Script and Artifact must be bare file names; the rewritten script and its
// artifact always live at the sandbox root.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if len(c.Interpreters) == 0 {
		errs = append(errs, &InvalidInterpreterError{Value: ""})
	}
	for _, interpreter := range c.Interpreters {
		if valid, fieldErrs := interpreter.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if err := validateFileName("script", c.Script); err != nil {
		errs = append(errs, err)
	}
	if err := validateFileName("artifact", c.Artifact); err != nil {
		errs = append(errs, err)
	}
	if valid, fieldErrs := c.Timeout.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Grace.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Sandbox.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

func validateFileName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s: must be non-empty", field)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%s: %q must be a bare file name, not a path", field, name)
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Interpreters: []Interpreter{"python3", "python2", "python"},
		Script:       "setup.py",
		Artifact:     "output.json",
		Timeout:      "60s",
		Grace:        "5s",
		Sandbox: SandboxConfig{
			Provider:   ProviderContainer,
			Engine:     EngineAuto,
			Image:      "docker.io/library/python:3",
			User:       "65534:65534",
			WorkRoot:   "", // Will use the system temp dir if empty
			KeepCopies: false,
		},
		Hooks: HooksConfig{},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
