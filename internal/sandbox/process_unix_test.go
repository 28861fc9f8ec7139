// SPDX-License-Identifier: MPL-2.0

//go:build unix

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestProcessProviderExitCodes(t *testing.T) {
	t.Parallel()
	requireNotRoot(t)

	tests := []struct {
		name     string
		command  []string
		wantExit int
	}{
		{"success", []string{"sh", "-c", "exit 0"}, 0},
		{"failure", []string{"sh", "-c", "exit 42"}, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewProcessProvider()
			result, err := p.Exec(context.Background(), t.TempDir(), ExecSpec{
				Command:     tt.command,
				GracePeriod: time.Second,
			})
			if err != nil {
				t.Fatalf("Exec() error = %v", err)
			}
			if result.TimedOut || result.StartNotFound {
				t.Fatalf("unexpected result flags: %+v", result)
			}
			if result.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.wantExit)
			}
		})
	}
}

func TestProcessProviderMissingBinary(t *testing.T) {
	t.Parallel()
	requireNotRoot(t)

	p := NewProcessProvider()
	result, err := p.Exec(context.Background(), t.TempDir(), ExecSpec{
		Command: []string{"definitely-not-a-real-interpreter"},
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !result.StartNotFound {
		t.Errorf("StartNotFound = false, want true (result %+v)", result)
	}
}

func TestProcessProviderRunsInSandboxDir(t *testing.T) {
	t.Parallel()
	requireNotRoot(t)

	dir := t.TempDir()
	var out bytes.Buffer
	p := NewProcessProvider()
	result, err := p.Exec(context.Background(), dir, ExecSpec{
		Command: []string{"pwd"},
		Stdout:  &out,
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", result.ExitCode)
	}
	// Resolve symlinks: on some systems /tmp points elsewhere and pwd
	// reports the resolved path.
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != want && got != dir {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestProcessProviderEnvOverlay(t *testing.T) {
	t.Parallel()
	requireNotRoot(t)

	var out bytes.Buffer
	p := NewProcessProvider()
	result, err := p.Exec(context.Background(), t.TempDir(), ExecSpec{
		Command: []string{"sh", "-c", "printf '%s' \"$SETUPX_PROBE\""},
		Env:     map[string]string{"SETUPX_PROBE": "on"},
		Stdout:  &out,
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", result.ExitCode)
	}
	if out.String() != "on" {
		t.Errorf("SETUPX_PROBE = %q, want %q", out.String(), "on")
	}
}

func TestProcessProviderDeadlineKillsGroup(t *testing.T) {
	t.Parallel()
	requireNotRoot(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	p := NewProcessProvider()
	start := time.Now()
	// The child ignores nothing here, so SIGTERM alone should end it; the
	// grace period bounds the worst case.
	result, err := p.Exec(ctx, t.TempDir(), ExecSpec{
		Command:     []string{"sh", "-c", "sleep 30"},
		GracePeriod: time.Second,
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("TimedOut = false, want true (result %+v)", result)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("termination took %v, want well under the script's 30s", elapsed)
	}
}

func TestProcessProviderCancellationIsNotTimeout(t *testing.T) {
	t.Parallel()
	requireNotRoot(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	p := NewProcessProvider()
	result, err := p.Exec(ctx, t.TempDir(), ExecSpec{
		Command:     []string{"sh", "-c", "sleep 30"},
		GracePeriod: time.Second,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Exec() error = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on cancellation", result)
	}
}

func TestProcessProviderRefusesRoot(t *testing.T) {
	t.Parallel()
	if os.Geteuid() != 0 {
		t.Skip("requires running as root")
	}

	p := NewProcessProvider()
	_, err := p.Exec(context.Background(), t.TempDir(), ExecSpec{Command: []string{"true"}})
	if !errors.Is(err, ErrRootRefused) {
		t.Errorf("Exec() as root error = %v, want ErrRootRefused", err)
	}
}

func requireNotRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("process provider refuses to run as root without a drop user")
	}
}
