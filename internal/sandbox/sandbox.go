// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"setupx-cli/internal/issue"
)

// ErrReleased is returned when a released sandbox is used.
var ErrReleased = errors.New("sandbox already released")

type (
	// Provider executes commands inside a sandbox directory. It does not own
	// the directory lifecycle; Sandbox does.
	Provider interface {
		// Name identifies the provider ("container", "process").
		Name() string
		// Exec runs spec.Command with dir as its working directory. The
		// context carries the attempt deadline; on expiry the provider must
		// terminate the process and all its descendants (graceful signal
		// first, unconditional kill after spec.GracePeriod) and report
		// TimedOut. Cancellation terminates the same way but returns the
		// context error. A non-zero exit is a result, not an error.
		Exec(ctx context.Context, dir string, spec ExecSpec) (*ExecResult, error)
	}

	// ExecSpec describes one command execution inside the sandbox.
	ExecSpec struct {
		// Command is the command and its arguments. Relative paths resolve
		// against the sandbox directory.
		Command []string
		// Env contains extra environment variables.
		Env map[string]string
		// GracePeriod bounds the window between the graceful termination
		// signal and the unconditional kill.
		GracePeriod time.Duration
		// Stdout and Stderr receive the untrusted script's output. Either
		// may be nil to discard.
		Stdout io.Writer
		Stderr io.Writer
	}

	// ExecResult is the outcome of one execution.
	ExecResult struct {
		// ExitCode is the process exit status; meaningless when TimedOut or
		// StartNotFound is set.
		ExitCode int
		// TimedOut reports that the deadline expired and the process was
		// terminated by the provider.
		TimedOut bool
		// StartNotFound reports that the command's binary does not exist in
		// the sandbox's execution environment.
		StartNotFound bool
	}

	// Options configures sandbox creation.
	Options struct {
		// WorkRoot is the directory disposable copies are created under;
		// empty uses the system temp directory.
		WorkRoot string
		// PrepareHook is an optional POSIX shell snippet executed inside the
		// private copy before anything else, using the embedded shell
		// interpreter so behavior does not depend on the host's /bin/sh.
		PrepareHook string
		// Keep leaves the private copy on disk after Release, for debugging.
		Keep bool
	}

	// Sandbox is one disposable execution context: a private copy of the
	// source tree plus the provider that runs commands against it.
	Sandbox struct {
		dir      string
		provider Provider
		keep     bool
		released bool
	}
)

// New creates a sandbox for sourceDir: a fresh private copy with normalized
// permissions, with the prepare hook (if any) already run. The caller must
// Release the sandbox, typically via defer, regardless of outcome.
func New(ctx context.Context, provider Provider, sourceDir string, opts Options) (*Sandbox, error) {
	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return nil, issue.NewErrorContext().
			WithOperation("create sandbox copy").
			WithResource(sourceDir).
			WithSuggestion("Check that the path points at an extracted source tree").
			Wrap(fmt.Errorf("source tree is not a readable directory: %w", err)).
			BuildError()
	}

	dir, err := os.MkdirTemp(opts.WorkRoot, "setupx-")
	if err != nil {
		return nil, issue.WrapWithOperation(err, "create sandbox copy")
	}

	if err := CopyTree(sourceDir, dir); err != nil {
		_ = os.RemoveAll(dir)
		return nil, issue.NewErrorContext().
			WithOperation("create sandbox copy").
			WithResource(sourceDir).
			WithSuggestion("Verify read permission on the whole source tree").
			WithSuggestion("Check free space in $TMPDIR").
			Wrap(err).
			BuildError()
	}

	if opts.PrepareHook != "" {
		if err := runPrepareHook(ctx, dir, opts.PrepareHook); err != nil {
			_ = os.RemoveAll(dir)
			return nil, issue.WrapWithContext(err, "run prepare hook", dir)
		}
	}

	return &Sandbox{dir: dir, provider: provider, keep: opts.Keep}, nil
}

// Dir returns the private copy's path.
func (s *Sandbox) Dir() string { return s.dir }

// Provider returns the execution provider backing this sandbox.
func (s *Sandbox) Provider() Provider { return s.provider }

// Exec runs one command inside the sandbox.
func (s *Sandbox) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if s.released {
		return nil, ErrReleased
	}
	return s.provider.Exec(ctx, s.dir, spec)
}

// Release discards the private copy. Safe to call multiple times; the first
// call wins. With Options.Keep the directory is left on disk but the
// sandbox still refuses further use.
func (s *Sandbox) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if s.keep {
		return nil
	}
	return os.RemoveAll(s.dir)
}
