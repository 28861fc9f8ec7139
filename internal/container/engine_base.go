// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"setupx-cli/pkg/platform"
)

const (
	// NetworkNone disables all networking inside the container. Sandboxed
	// build scripts run with this unless configured otherwise.
	NetworkNone ContainerNetwork = "none"

	// SELinuxLabelNone applies no SELinux label to volume mounts.
	SELinuxLabelNone SELinuxLabel = ""
	// SELinuxLabelShared allows sharing the volume between containers.
	SELinuxLabelShared SELinuxLabel = "z"
	// SELinuxLabelPrivate restricts the volume to a single container.
	SELinuxLabelPrivate SELinuxLabel = "Z"
)

var (
	// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
	ErrInvalidVolumeMount = errors.New("invalid volume mount")

	// ErrInvalidRunOptions is the sentinel error wrapped by InvalidRunOptionsError.
	ErrInvalidRunOptions = errors.New("invalid run options")
)

type (
	// ExecCommandFunc creates an exec.Cmd. Injectable for tests.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount as a CLI argument. Podman uses
	// this to append SELinux labels, without which container processes on
	// enforcing hosts cannot access bind-mounted paths.
	VolumeFormatFunc func(v VolumeMount) string

	// RunArgsTransformer rewrites run arguments after assembly. Podman uses
	// this to inject --userns=keep-id for rootless compatibility.
	RunArgsTransformer func(args []string) []string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// ImageTag names a container image.
	ImageTag string

	// ContainerNetwork names a container network mode.
	ContainerNetwork string

	// SELinuxLabel is an SELinux volume labeling option. The zero value
	// applies no label.
	SELinuxLabel string

	// VolumeMount binds a host path into the container.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
		SELinux       SELinuxLabel
	}

	// InvalidVolumeMountError is returned when a VolumeMount has empty paths.
	InvalidVolumeMountError struct {
		Value VolumeMount
	}

	// InvalidRunOptionsError is returned when RunOptions fail validation.
	// It collects the individual field errors.
	InvalidRunOptionsError struct {
		FieldErrs []error
	}

	// RunOptions describes one container run.
	RunOptions struct {
		// Image is the image to run.
		Image ImageTag
		// Command is the command and its arguments.
		Command []string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// User is the uid[:gid] to run as; empty keeps the image default.
		User string
		// Network is the network mode; empty keeps the engine default.
		Network ContainerNetwork
		// Env contains environment variables.
		Env map[string]string
		// Volumes are bind mounts into the container.
		Volumes []VolumeMount
		// Remove makes the engine delete the container after exit.
		Remove bool
		// Name names the container so a hung run can be force-removed.
		Name string
		// Stdout and Stderr receive the container's output. Either may be
		// nil to discard.
		Stdout io.Writer
		Stderr io.Writer
	}

	// RunResult is the outcome of a container run. A non-zero exit code is
	// not an error; Error is set only for infrastructure failures.
	RunResult struct {
		ExitCode int
		Error    error
	}

	// BaseCLIEngine implements the CLI plumbing shared by docker and podman:
	// argument assembly, process creation, and host-spawn wrapping when
	// setupx itself runs inside a Flatpak or Snap sandbox (where the engine
	// binary lives on the host, not inside the application sandbox).
	BaseCLIEngine struct {
		name               string
		binaryPath         string
		execCommand        ExecCommandFunc
		volumeFormatter    VolumeFormatFunc
		runArgsTransformer RunArgsTransformer
		spawnPrefix        []string
	}
)

// Error implements the error interface.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %q:%q (both paths must be non-empty)",
		e.Value.HostPath, e.Value.ContainerPath)
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is detection.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Error implements the error interface.
func (e *InvalidRunOptionsError) Error() string {
	msgs := make([]string, len(e.FieldErrs))
	for i, err := range e.FieldErrs {
		msgs[i] = err.Error()
	}
	return "invalid run options: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidRunOptions for errors.Is detection.
func (e *InvalidRunOptionsError) Unwrap() error { return ErrInvalidRunOptions }

// IsValid reports whether the mount has both paths set.
func (v VolumeMount) IsValid() bool {
	return strings.TrimSpace(v.HostPath) != "" && strings.TrimSpace(v.ContainerPath) != ""
}

// Validate checks RunOptions before execution so malformed requests fail
// with a clear message instead of an opaque CLI error.
func (o RunOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(string(o.Image)) == "" {
		errs = append(errs, errors.New("image must be set"))
	}
	if len(o.Command) == 0 {
		errs = append(errs, errors.New("command must be non-empty"))
	}
	for _, v := range o.Volumes {
		if !v.IsValid() {
			errs = append(errs, &InvalidVolumeMountError{Value: v})
		}
	}
	if len(errs) > 0 {
		return &InvalidRunOptionsError{FieldErrs: errs}
	}
	return nil
}

// NewBaseCLIEngine creates the shared CLI plumbing for an engine binary.
func NewBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:               name,
		binaryPath:         binaryPath,
		execCommand:        exec.CommandContext,
		volumeFormatter:    defaultVolumeFormat,
		runArgsTransformer: func(args []string) []string { return args },
		spawnPrefix:        hostSpawnPrefix(platform.Detect()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithExecCommand injects a command factory (tests).
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.execCommand = fn }
}

// WithVolumeFormatter overrides volume mount formatting.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.volumeFormatter = fn }
}

// WithRunArgsTransformer sets a custom run args transformer.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.runArgsTransformer = fn }
}

// WithSpawnPrefix overrides host-spawn wrapping (tests).
func WithSpawnPrefix(prefix []string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.spawnPrefix = prefix }
}

// hostSpawnPrefix returns the command prefix needed to reach the host's
// engine binary from inside an application sandbox, or nil.
func hostSpawnPrefix(hs platform.HostSandbox) []string {
	cmd := platform.SpawnCommandFor(hs)
	if cmd == "" {
		return nil
	}
	return append([]string{cmd}, platform.SpawnArgsFor(hs)...)
}

func defaultVolumeFormat(v VolumeMount) string {
	spec := v.HostPath + ":" + v.ContainerPath
	switch {
	case v.ReadOnly && v.SELinux != SELinuxLabelNone:
		spec += ":ro," + string(v.SELinux)
	case v.ReadOnly:
		spec += ":ro"
	case v.SELinux != SELinuxLabelNone:
		spec += ":" + string(v.SELinux)
	}
	return spec
}

// Name returns the engine name.
func (e *BaseCLIEngine) Name() string { return e.name }

// BinaryPath returns the engine binary path.
func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

// RunArgs constructs the argument slice for a 'run' invocation.
//
// Generated command: <binary> run [options] <image> <command...>
// Env vars are emitted in sorted key order so the args are deterministic.
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	if opts.Network != "" {
		args = append(args, "--network", string(opts.Network))
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}

	args = append(args, string(opts.Image))
	args = append(args, opts.Command...)

	return e.runArgsTransformer(args)
}

// StopArgs constructs the argument slice for a container stop. The engines'
// stop command sends SIGTERM and escalates to SIGKILL after the grace
// period, which is exactly the termination contract sandboxed runs need.
func (e *BaseCLIEngine) StopArgs(container string, grace time.Duration) []string {
	seconds := int(grace / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return []string{"stop", "-t", strconv.Itoa(seconds), container}
}

// RemoveArgs constructs the argument slice for a container remove.
func (e *BaseCLIEngine) RemoveArgs(container string, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, container)
}

// CreateCommand creates an exec.Cmd for the engine binary with the given
// arguments, applying host-spawn wrapping when needed.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	if len(e.spawnPrefix) > 0 {
		full := append(append([]string{}, e.spawnPrefix[1:]...), e.binaryPath)
		full = append(full, args...)
		return e.execCommand(ctx, e.spawnPrefix[0], full...)
	}
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandStatus executes an engine command and returns only its status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	if err := e.CreateCommand(ctx, args...).Run(); err != nil {
		return fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return nil
}

// RunCommandWithOutput executes an engine command with stdout captured.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return out.String(), nil
}

// Run runs a command in a fresh container. Non-zero container exit lands in
// RunResult.ExitCode; RunResult.Error is reserved for infrastructure
// failures (binary missing, daemon unreachable).
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()

	result := &RunResult{}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			result.Error = err
		}
	}

	return result, nil
}

// Stop stops a container with the given grace period.
func (e *BaseCLIEngine) Stop(ctx context.Context, container string, grace time.Duration) error {
	return e.RunCommandStatus(ctx, e.StopArgs(container, grace)...)
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, container string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(container, force)...)
}

// ImageExists checks whether the image is present locally.
func (e *BaseCLIEngine) ImageExists(ctx context.Context, image ImageTag) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "inspect", string(image))
	return err == nil, nil
}

// Pull fetches the image from its registry.
func (e *BaseCLIEngine) Pull(ctx context.Context, image ImageTag) error {
	return e.RunCommandStatus(ctx, "pull", string(image))
}
