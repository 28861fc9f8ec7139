// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"setupx-cli/internal/container"
)

// fakeEngine scripts Run outcomes and records Stop/Remove calls.
type fakeEngine struct {
	mu sync.Mutex

	runResult *container.RunResult
	runErr    error
	runDelay  time.Duration
	runStderr string
	runOpts   container.RunOptions

	imageExists bool
	pullErrs    []error
	pullCalls   int

	stopped   []string
	stopGrace time.Duration
	removed   []string
}

func (f *fakeEngine) Name() string                            { return "fake" }
func (f *fakeEngine) Available() bool                         { return true }
func (f *fakeEngine) Version(context.Context) (string, error) { return "0.0-test", nil }
func (f *fakeEngine) BinaryPath() string                      { return "/usr/bin/fake" }

func (f *fakeEngine) Run(ctx context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	f.runOpts = opts
	delay := f.runDelay
	stderr := f.runStderr
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if stderr != "" && opts.Stderr != nil {
		_, _ = opts.Stderr.Write([]byte(stderr))
	}
	return f.runResult, f.runErr
}

func (f *fakeEngine) Stop(_ context.Context, name string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	f.stopGrace = grace
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeEngine) ImageExists(context.Context, container.ImageTag) (bool, error) {
	return f.imageExists, nil
}

func (f *fakeEngine) Pull(context.Context, container.ImageTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++
	if len(f.pullErrs) == 0 {
		return nil
	}
	err := f.pullErrs[0]
	f.pullErrs = f.pullErrs[1:]
	return err
}

func TestContainerProviderRunShape(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{runResult: &container.RunResult{ExitCode: 0}}
	p := NewContainerProvider(engine,
		WithImage("docker.io/library/python:3.12"),
		WithUser("1000:1000"))

	dir := t.TempDir()
	result, err := p.Exec(context.Background(), dir, ExecSpec{
		Command: []string{"python3", "setup.py"},
		Env:     map[string]string{"PYTHONDONTWRITEBYTECODE": "1"},
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if result.ExitCode != 0 || result.TimedOut || result.StartNotFound {
		t.Fatalf("unexpected result %+v", result)
	}

	opts := engine.runOpts
	if opts.Image != "docker.io/library/python:3.12" {
		t.Errorf("Image = %q", opts.Image)
	}
	if opts.User != "1000:1000" {
		t.Errorf("User = %q", opts.User)
	}
	if opts.Network != container.NetworkNone {
		t.Errorf("Network = %q, want none", opts.Network)
	}
	if opts.WorkDir != "/work" {
		t.Errorf("WorkDir = %q, want /work", opts.WorkDir)
	}
	if len(opts.Volumes) != 1 || opts.Volumes[0].HostPath != dir || opts.Volumes[0].ContainerPath != "/work" {
		t.Errorf("Volumes = %+v", opts.Volumes)
	}
	if !opts.Remove {
		t.Error("Remove = false, want true")
	}
	if !strings.HasPrefix(opts.Name, "setupx-") {
		t.Errorf("Name = %q, want setupx- prefix", opts.Name)
	}
}

func TestContainerProviderExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		exitCode          int
		stderr            string
		wantExit          int
		wantStartNotFound bool
	}{
		{
			name:     "failure propagates",
			exitCode: 2,
			wantExit: 2,
		},
		{
			name:              "runtime missing binary maps to missing interpreter",
			exitCode:          127,
			stderr:            `docker: Error response from daemon: exec: "python2": executable file not found in $PATH`,
			wantStartNotFound: true,
		},
		{
			// sys.exit(127) from the script itself is a plain failure.
			name:     "script's own 127 is not a missing interpreter",
			exitCode: 127,
			stderr:   "Traceback (most recent call last):\nSystemExit: 127\n",
			wantExit: 127,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{
				runResult: &container.RunResult{ExitCode: tt.exitCode},
				runStderr: tt.stderr,
			}
			p := NewContainerProvider(engine)

			var stderr bytes.Buffer
			result, err := p.Exec(context.Background(), t.TempDir(), ExecSpec{
				Command: []string{"python3", "setup.py"},
				Stderr:  &stderr,
			})
			if err != nil {
				t.Fatalf("Exec() error = %v", err)
			}
			if result.StartNotFound != tt.wantStartNotFound {
				t.Errorf("StartNotFound = %v, want %v", result.StartNotFound, tt.wantStartNotFound)
			}
			if !tt.wantStartNotFound && result.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.wantExit)
			}
			// The scanner tees; the caller still sees the full stream.
			if stderr.String() != tt.stderr {
				t.Errorf("Stderr = %q, want %q", stderr.String(), tt.stderr)
			}
		})
	}
}

func TestContainerProviderDeadlineStopsContainer(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		runResult: &container.RunResult{ExitCode: 137},
		runDelay:  500 * time.Millisecond,
	}
	p := NewContainerProvider(engine)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := p.Exec(ctx, t.TempDir(), ExecSpec{
		Command:     []string{"python3", "setup.py"},
		GracePeriod: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("TimedOut = false, want true (result %+v)", result)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.stopped) != 1 {
		t.Fatalf("Stop calls = %d, want 1", len(engine.stopped))
	}
	if engine.stopGrace != 3*time.Second {
		t.Errorf("Stop grace = %v, want 3s", engine.stopGrace)
	}
	if len(engine.removed) != 1 || engine.removed[0] != engine.stopped[0] {
		t.Errorf("Remove calls = %v, want the stopped container", engine.removed)
	}
}

func TestContainerProviderCancellationIsNotTimeout(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		runResult: &container.RunResult{ExitCode: 137},
		runDelay:  500 * time.Millisecond,
	}
	p := NewContainerProvider(engine)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := p.Exec(ctx, t.TempDir(), ExecSpec{
		Command:     []string{"python3", "setup.py"},
		GracePeriod: time.Second,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Exec() error = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on cancellation", result)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.stopped) != 1 {
		t.Errorf("Stop calls = %d, want the container stopped on cancellation", len(engine.stopped))
	}
}

func TestEnsureImageSkipsPresentImage(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{imageExists: true}
	p := NewContainerProvider(engine)
	if err := p.EnsureImage(context.Background()); err != nil {
		t.Fatalf("EnsureImage() error = %v", err)
	}
	if engine.pullCalls != 0 {
		t.Errorf("pull calls = %d, want 0", engine.pullCalls)
	}
}

func TestEnsureImageRetriesTransientPullFailures(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		pullErrs: []error{
			&transientErr{"Could not resolve host: registry-1.docker.io"},
		},
	}
	p := NewContainerProvider(engine)
	if err := p.EnsureImage(context.Background()); err != nil {
		t.Fatalf("EnsureImage() error = %v", err)
	}
	if engine.pullCalls != 2 {
		t.Errorf("pull calls = %d, want 2", engine.pullCalls)
	}
}

type transientErr struct{ msg string }

func (e *transientErr) Error() string { return e.msg }
