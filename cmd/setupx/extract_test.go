// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"setupx-cli/internal/artifact"
	"setupx-cli/internal/config"
	"setupx-cli/internal/container"
	"setupx-cli/internal/extract"
	"setupx-cli/internal/sandbox"
	"setupx-cli/internal/supervisor"
)

type fakeConfigProvider struct {
	err error
}

func (p *fakeConfigProvider) Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error) {
	if p.err != nil {
		return nil, p.err
	}
	return config.DefaultConfig(), nil
}

type fakeSandboxFactory struct {
	err    error
	gotCfg config.SandboxConfig
}

func (f *fakeSandboxFactory) New(ctx context.Context, cfg config.SandboxConfig) (sandbox.Provider, error) {
	f.gotCfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return sandbox.NewProcessProvider(), nil
}

// harness wires a root command around fakes and captures output.
type harness struct {
	app     *App
	factory *fakeSandboxFactory
	gotReq  *extract.Request
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

func newHarness(t *testing.T, outcome *extract.Outcome, extractErr error) *harness {
	t.Helper()

	h := &harness{
		factory: &fakeSandboxFactory{},
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
	}
	h.app = NewApp(Dependencies{
		Config:  &fakeConfigProvider{},
		Sandbox: h.factory,
		Extract: func(ctx context.Context, provider sandbox.Provider, req extract.Request) (*extract.Outcome, error) {
			h.gotReq = &req
			if extractErr != nil {
				return nil, extractErr
			}
			return outcome, nil
		},
		Stdout: h.stdout,
		Stderr: h.stderr,
	})
	return h
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()

	root := newRootCommand(h.app)
	root.SetArgs(args)
	root.SetOut(h.stderr)
	root.SetErr(h.stderr)
	return root.Execute()
}

func exitCode(t *testing.T, err error) int {
	t.Helper()

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ExitError", err)
	}
	return exitErr.Code
}

func TestExtractSuccessPrintsArtifact(t *testing.T) {
	raw := []byte(`{"name": "demo", "version": "1.0"}`)
	h := newHarness(t, &extract.Outcome{
		Report:   &supervisor.Report{Winner: "python3"},
		Artifact: &artifact.Record{Raw: raw},
	}, nil)

	if err := h.run(t, "extract", t.TempDir()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := h.stdout.String(); got != string(raw)+"\n" {
		t.Errorf("stdout = %q, want the raw artifact", got)
	}
}

func TestExtractExhaustionExitsOne(t *testing.T) {
	h := newHarness(t, &extract.Outcome{
		Report: &supervisor.Report{Attempts: []supervisor.Attempt{
			{Interpreter: "python3", Status: supervisor.StatusFailed, ExitCode: 1},
			{Interpreter: "python2", Status: supervisor.StatusInterpreterMissing},
			{Interpreter: "python", Status: supervisor.StatusTimedOut},
		}},
	}, nil)

	err := h.run(t, "extract", t.TempDir())
	if code := exitCode(t, err); code != ExitExhausted {
		t.Errorf("exit code = %d, want %d", code, ExitExhausted)
	}
	if h.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty on failure", h.stdout.String())
	}
	for _, interpreter := range []string{"python3", "python2", "python"} {
		if !strings.Contains(h.stderr.String(), interpreter) {
			t.Errorf("stderr missing attempt for %s", interpreter)
		}
	}
}

func TestExtractAbsentArtifactExitsThree(t *testing.T) {
	h := newHarness(t, &extract.Outcome{
		Report:      &supervisor.Report{Winner: "python3"},
		ArtifactErr: &artifact.AbsentError{Path: "/work/output.json"},
	}, nil)

	err := h.run(t, "extract", t.TempDir())
	if code := exitCode(t, err); code != ExitArtifactAbsent {
		t.Errorf("exit code = %d, want %d", code, ExitArtifactAbsent)
	}
}

func TestExtractMissingScriptExitsTwo(t *testing.T) {
	h := newHarness(t, nil, extract.ErrScriptMissing)

	err := h.run(t, "extract", t.TempDir())
	if code := exitCode(t, err); code != ExitUsage {
		t.Errorf("exit code = %d, want %d", code, ExitUsage)
	}
}

func TestExtractEngineNotAvailableExitsTwo(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.factory.err = &container.ErrEngineNotAvailable{Engine: "docker"}

	err := h.run(t, "extract", t.TempDir())
	if code := exitCode(t, err); code != ExitUsage {
		t.Errorf("exit code = %d, want %d", code, ExitUsage)
	}
	if !strings.Contains(h.stderr.String(), "container engine") {
		t.Errorf("stderr = %q, want engine guidance", h.stderr.String())
	}
}

func TestExtractFlagOverlay(t *testing.T) {
	h := newHarness(t, &extract.Outcome{
		Report:   &supervisor.Report{Winner: "pypy"},
		Artifact: &artifact.Record{Raw: []byte("{}")},
	}, nil)

	dir := t.TempDir()
	err := h.run(t, "extract", dir,
		"--interpreter", "pypy",
		"--timeout", "10s",
		"--grace", "1s",
		"--keep",
		"--static-first",
		"--env", "SOURCE_DATE_EPOCH=0",
		"--provider", "process",
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	req := h.gotReq
	if req == nil {
		t.Fatal("extract was never called")
	}
	if req.SourceDir != dir {
		t.Errorf("SourceDir = %q, want %q", req.SourceDir, dir)
	}
	if len(req.Interpreters) != 1 || req.Interpreters[0] != "pypy" {
		t.Errorf("Interpreters = %v, want [pypy]", req.Interpreters)
	}
	if req.Timeout != 10*time.Second || req.Grace != time.Second {
		t.Errorf("Timeout/Grace = %v/%v", req.Timeout, req.Grace)
	}
	if !req.Keep || !req.StaticFirst {
		t.Errorf("Keep/StaticFirst = %v/%v, want true/true", req.Keep, req.StaticFirst)
	}
	if req.Env["SOURCE_DATE_EPOCH"] != "0" {
		t.Errorf("Env = %v", req.Env)
	}
	if h.factory.gotCfg.Provider != config.ProviderProcess {
		t.Errorf("sandbox provider = %q, want process", h.factory.gotCfg.Provider)
	}
}

func TestExtractDefaultsFromConfig(t *testing.T) {
	h := newHarness(t, &extract.Outcome{
		Report:   &supervisor.Report{Winner: "python3"},
		Artifact: &artifact.Record{Raw: []byte("{}")},
	}, nil)

	if err := h.run(t, "extract", t.TempDir()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	req := h.gotReq
	want := []string{"python3", "python2", "python"}
	if len(req.Interpreters) != len(want) {
		t.Fatalf("Interpreters = %v, want %v", req.Interpreters, want)
	}
	for i, in := range want {
		if req.Interpreters[i] != in {
			t.Errorf("Interpreters[%d] = %q, want %q", i, req.Interpreters[i], in)
		}
	}
	if req.Script != "setup.py" || req.Artifact != "output.json" {
		t.Errorf("Script/Artifact = %q/%q", req.Script, req.Artifact)
	}
	if req.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", req.Timeout)
	}
}

func TestExtractInvalidTimeoutExitsTwo(t *testing.T) {
	h := newHarness(t, nil, nil)

	err := h.run(t, "extract", t.TempDir(), "--timeout", "10 parsecs")
	if code := exitCode(t, err); code != ExitUsage {
		t.Errorf("exit code = %d, want %d", code, ExitUsage)
	}
	if h.gotReq != nil {
		t.Error("extract ran despite invalid config")
	}
}

func TestExtractOutputFlagWritesFile(t *testing.T) {
	raw := []byte(`{"name": "demo"}`)
	h := newHarness(t, &extract.Outcome{
		Report:   &supervisor.Report{Winner: "python3"},
		Artifact: &artifact.Record{Raw: raw},
	}, nil)

	out := filepath.Join(t.TempDir(), "meta.json")
	if err := h.run(t, "extract", t.TempDir(), "--output", out); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(raw)+"\n" {
		t.Errorf("file = %q, want the raw artifact", got)
	}
	if h.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty with --output", h.stdout.String())
	}
}

func TestParseEnvPairs(t *testing.T) {
	t.Parallel()

	env, err := parseEnvPairs([]string{"A=1", "B=x=y"})
	if err != nil {
		t.Fatalf("parseEnvPairs() error = %v", err)
	}
	if env["A"] != "1" || env["B"] != "x=y" {
		t.Errorf("env = %v", env)
	}

	if _, err := parseEnvPairs([]string{"NOVALUE"}); err == nil {
		t.Error("parseEnvPairs() accepted a pair without =")
	}
	if _, err := parseEnvPairs([]string{"=bare"}); err == nil {
		t.Error("parseEnvPairs() accepted an empty key")
	}
}
