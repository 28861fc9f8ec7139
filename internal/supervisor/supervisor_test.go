// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"setupx-cli/internal/sandbox"
)

// scriptedProvider maps interpreter names to canned outcomes and records the
// order attempts were made in.
type scriptedProvider struct {
	outcomes map[string]sandbox.ExecResult
	errs     map[string]error
	stderr   map[string]string
	tried    []string
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Exec(_ context.Context, _ string, spec sandbox.ExecSpec) (*sandbox.ExecResult, error) {
	interpreter := spec.Command[0]
	s.tried = append(s.tried, interpreter)
	if err, ok := s.errs[interpreter]; ok {
		return nil, err
	}
	if out, ok := s.stderr[interpreter]; ok && spec.Stderr != nil {
		_, _ = spec.Stderr.Write([]byte(out))
	}
	result := s.outcomes[interpreter]
	return &result, nil
}

func newSandbox(t *testing.T, p sandbox.Provider) *sandbox.Sandbox {
	t.Helper()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "setup.py"), []byte("setup()\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sb, err := sandbox.New(context.Background(), p, src, sandbox.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sb.Release() })
	return sb
}

func TestRunFirstCandidateWins(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{
		outcomes: map[string]sandbox.ExecResult{"python3": {ExitCode: 0}},
	}
	report, err := Run(context.Background(), newSandbox(t, provider), Options{Script: "setup.py"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Winner != "python3" {
		t.Errorf("Winner = %q, want python3", report.Winner)
	}
	if len(provider.tried) != 1 {
		t.Errorf("tried = %v, want only python3", provider.tried)
	}
	if len(report.Attempts) != 1 || report.Attempts[0].Status != StatusSucceeded {
		t.Errorf("Attempts = %+v", report.Attempts)
	}
}

func TestRunFallsBackInOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		outcomes     map[string]sandbox.ExecResult
		wantWinner   string
		wantTried    []string
		wantStatuses []AttemptStatus
	}{
		{
			name: "missing interpreter falls through",
			outcomes: map[string]sandbox.ExecResult{
				"python3": {StartNotFound: true},
				"python2": {ExitCode: 0},
			},
			wantWinner:   "python2",
			wantTried:    []string{"python3", "python2"},
			wantStatuses: []AttemptStatus{StatusInterpreterMissing, StatusSucceeded},
		},
		{
			name: "failure falls through",
			outcomes: map[string]sandbox.ExecResult{
				"python3": {ExitCode: 1},
				"python2": {ExitCode: 0},
			},
			wantWinner:   "python2",
			wantTried:    []string{"python3", "python2"},
			wantStatuses: []AttemptStatus{StatusFailed, StatusSucceeded},
		},
		{
			name: "timeout falls through",
			outcomes: map[string]sandbox.ExecResult{
				"python3": {TimedOut: true},
				"python2": {ExitCode: 0},
			},
			wantWinner:   "python2",
			wantTried:    []string{"python3", "python2"},
			wantStatuses: []AttemptStatus{StatusTimedOut, StatusSucceeded},
		},
		{
			name: "exhaustion tries everything",
			outcomes: map[string]sandbox.ExecResult{
				"python3": {ExitCode: 1},
				"python2": {StartNotFound: true},
				"python":  {ExitCode: 2},
			},
			wantWinner:   "",
			wantTried:    []string{"python3", "python2", "python"},
			wantStatuses: []AttemptStatus{StatusFailed, StatusInterpreterMissing, StatusFailed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := &scriptedProvider{outcomes: tt.outcomes}
			report, err := Run(context.Background(), newSandbox(t, provider), Options{Script: "setup.py"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if report.Winner != tt.wantWinner {
				t.Errorf("Winner = %q, want %q", report.Winner, tt.wantWinner)
			}
			if report.Succeeded() != (tt.wantWinner != "") {
				t.Errorf("Succeeded() = %v", report.Succeeded())
			}
			if len(provider.tried) != len(tt.wantTried) {
				t.Fatalf("tried = %v, want %v", provider.tried, tt.wantTried)
			}
			for i, interp := range tt.wantTried {
				if provider.tried[i] != interp {
					t.Errorf("tried[%d] = %q, want %q", i, provider.tried[i], interp)
				}
				if report.Attempts[i].Status != tt.wantStatuses[i] {
					t.Errorf("Attempts[%d].Status = %q, want %q", i, report.Attempts[i].Status, tt.wantStatuses[i])
				}
			}
		})
	}
}

func TestRunRecordsExitCodeAndStderrTail(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{
		outcomes: map[string]sandbox.ExecResult{
			"python3": {ExitCode: 1},
			"python2": {StartNotFound: true},
			"python":  {StartNotFound: true},
		},
		stderr: map[string]string{
			"python3": "Traceback (most recent call last):\nImportError: no module named foo\n",
		},
	}
	report, err := Run(context.Background(), newSandbox(t, provider), Options{Script: "setup.py"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !report.Exhausted() {
		t.Fatal("Exhausted() = false, want true")
	}
	first := report.Attempts[0]
	if first.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", first.ExitCode)
	}
	if want := "ImportError: no module named foo"; !strings.Contains(first.StderrTail, want) {
		t.Errorf("StderrTail = %q, want it to contain %q", first.StderrTail, want)
	}
}

func TestRunPropagatesInfrastructureErrors(t *testing.T) {
	t.Parallel()

	infraErr := errors.New("engine daemon unreachable")
	provider := &scriptedProvider{errs: map[string]error{"python3": infraErr}}

	_, err := Run(context.Background(), newSandbox(t, provider), Options{Script: "setup.py"})
	if !errors.Is(err, infraErr) {
		t.Errorf("Run() error = %v, want %v", err, infraErr)
	}
}

func TestRunRequiresScript(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), newSandbox(t, &scriptedProvider{}), Options{})
	if err == nil {
		t.Fatal("Run() without a script succeeded, want error")
	}
}

func TestRunCallsBeforeAttemptPerInterpreter(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{
		outcomes: map[string]sandbox.ExecResult{
			"python3": {ExitCode: 1},
			"python2": {ExitCode: 1},
			"python":  {ExitCode: 1},
		},
	}

	var calls int
	report, err := Run(context.Background(), newSandbox(t, provider), Options{
		Script:        "setup.py",
		BeforeAttempt: func() error { calls++; return nil },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !report.Exhausted() {
		t.Fatal("Exhausted() = false, want true")
	}
	if calls != 3 {
		t.Errorf("BeforeAttempt calls = %d, want one per attempt", calls)
	}
}

func TestRunBeforeAttemptErrorAborts(t *testing.T) {
	t.Parallel()

	hookErr := errors.New("sandbox reset failed")
	provider := &scriptedProvider{}

	_, err := Run(context.Background(), newSandbox(t, provider), Options{
		Script:        "setup.py",
		BeforeAttempt: func() error { return hookErr },
	})
	if !errors.Is(err, hookErr) {
		t.Errorf("Run() error = %v, want %v", err, hookErr)
	}
	if len(provider.tried) != 0 {
		t.Errorf("tried = %v, want no attempts after a failed reset", provider.tried)
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{}
	_, err := Run(ctx, newSandbox(t, provider), Options{Script: "setup.py"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(provider.tried) != 0 {
		t.Errorf("tried = %v, want no attempts", provider.tried)
	}
}

func TestRunCustomInterpreterList(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{
		outcomes: map[string]sandbox.ExecResult{"pypy3": {ExitCode: 0}},
	}
	report, err := Run(context.Background(), newSandbox(t, provider), Options{
		Script:       "setup.py",
		Interpreters: []string{"pypy3"},
		Timeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Winner != "pypy3" {
		t.Errorf("Winner = %q, want pypy3", report.Winner)
	}
}
