// SPDX-License-Identifier: MPL-2.0

// Package extract orchestrates metadata extraction for one source tree:
// optional static pyproject.toml fast path, script rewriting, sandboxed
// execution with interpreter fallback, and artifact recovery.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"setupx-cli/internal/artifact"
	"setupx-cli/internal/issue"
	"setupx-cli/internal/rewrite"
	"setupx-cli/internal/sandbox"
	"setupx-cli/internal/supervisor"
	"setupx-cli/pkg/pyproject"
)

// ErrScriptMissing is returned when the source tree has no build script.
var ErrScriptMissing = errors.New("build script not found in source tree")

// ErrSandboxSetup wraps failures to create the disposable copy before
// anything ran.
var ErrSandboxSetup = errors.New("sandbox setup failed")

type (
	// Request describes one extraction. Fields left zero fall back to the
	// supervisor and sandbox defaults.
	Request struct {
		// SourceDir is the extracted source tree. It is never modified; all
		// execution happens against a private copy.
		SourceDir string
		// Script is the build script file name, typically "setup.py".
		Script string
		// Artifact is the metadata file the instrumented script writes.
		Artifact string
		// Interpreters is the candidate fallback order.
		Interpreters []string
		// Timeout bounds each interpreter attempt.
		Timeout time.Duration
		// Grace is the termination escalation window.
		Grace time.Duration
		// Env contains extra environment variables for every attempt.
		Env map[string]string
		// PrepareHook is an optional shell snippet run in the private copy
		// before the script.
		PrepareHook string
		// WorkRoot is where private copies are created.
		WorkRoot string
		// Keep leaves the private copy on disk for debugging.
		Keep bool
		// StaticFirst consults pyproject.toml before running anything; a
		// fully static [project] table short-circuits the sandbox entirely.
		StaticFirst bool
		// StderrTailSize bounds per-attempt stderr retention.
		StderrTailSize int
	}

	// Outcome is the result of one extraction. Exactly one of Static and
	// Report is set: Static when pyproject.toml satisfied the request,
	// Report when the sandbox ran.
	Outcome struct {
		// Static is the pyproject metadata that satisfied the request, when
		// the fast path applied.
		Static *pyproject.Metadata
		// Report holds the per-interpreter attempts.
		Report *supervisor.Report
		// Artifact is the recovered metadata record; nil when extraction
		// failed or the script succeeded without writing one.
		Artifact *artifact.Record
		// ArtifactErr explains a missing or unreadable artifact after a
		// successful run. See artifact.ErrAbsent and artifact.UnreadableError.
		ArtifactErr error
		// SandboxDir is the kept private copy, when Request.Keep was set.
		SandboxDir string
	}
)

// Succeeded reports whether extraction produced usable metadata.
func (o *Outcome) Succeeded() bool {
	return o.Static != nil || o.Artifact != nil
}

// Run performs one extraction. An exhausted interpreter list or a missing
// artifact is reported in the Outcome, not as an error; errors are reserved
// for infrastructure failures and unusable requests.
func Run(ctx context.Context, provider sandbox.Provider, req Request) (*Outcome, error) {
	if req.Script == "" {
		req.Script = rewrite.DefaultScriptName
	}
	if req.Artifact == "" {
		req.Artifact = rewrite.DefaultArtifactName
	}

	if req.StaticFirst {
		if meta, ok := staticMetadata(req.SourceDir); ok {
			log.Debug("static metadata satisfied the request", "name", meta.Name, "version", meta.Version)
			return &Outcome{Static: meta, Artifact: staticRecord(meta)}, nil
		}
	}

	scriptPath := filepath.Join(req.SourceDir, req.Script)
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read build script").
			WithResource(scriptPath).
			WithSuggestion("Check that the source tree is an extracted distribution").
			WithSuggestion("Pass --script if the build script has a non-standard name").
			Wrap(fmt.Errorf("%w: %v", ErrScriptMissing, err)).
			BuildError()
	}

	sb, err := sandbox.New(ctx, provider, req.SourceDir, sandbox.Options{
		WorkRoot:    req.WorkRoot,
		PrepareHook: req.PrepareHook,
		Keep:        req.Keep,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxSetup, err)
	}
	defer sb.Release()

	// The rewrite replaces the script inside the private copy only; the
	// original tree keeps its pristine setup.py.
	rewritten := rewrite.Rewrite(src, req.Artifact)
	if err := os.WriteFile(filepath.Join(sb.Dir(), req.Script), rewritten, 0o644); err != nil {
		return nil, issue.WrapWithContext(err, "write instrumented script", sb.Dir())
	}

	// The source tree may ship a file with the artifact's name, and a failed
	// attempt can leave one behind. Every attempt starts without it so the
	// file read afterwards is attributable to the winning attempt only.
	artifactPath := filepath.Join(sb.Dir(), req.Artifact)
	clearArtifact := func() error {
		if err := os.Remove(artifactPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return issue.WrapWithContext(err, "clear stale artifact", artifactPath)
		}
		return nil
	}

	report, err := supervisor.Run(ctx, sb, supervisor.Options{
		Interpreters:   req.Interpreters,
		Script:         req.Script,
		Timeout:        req.Timeout,
		Grace:          req.Grace,
		Env:            req.Env,
		StderrTailSize: req.StderrTailSize,
		BeforeAttempt:  clearArtifact,
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Report: report}
	if req.Keep {
		outcome.SandboxDir = sb.Dir()
	}
	if report.Exhausted() {
		return outcome, nil
	}

	record, err := artifact.Read(sb.Dir(), req.Artifact)
	if err != nil {
		// A script can exit zero without ever calling setup(); that is a
		// distinct, reportable outcome rather than a failure of ours.
		outcome.ArtifactErr = err
		return outcome, nil
	}
	outcome.Artifact = record
	return outcome, nil
}

// staticMetadata loads pyproject.toml when it fully declares the package.
func staticMetadata(dir string) (*pyproject.Metadata, bool) {
	meta, err := pyproject.Load(dir)
	if err != nil {
		if !errors.Is(err, pyproject.ErrNotFound) {
			log.Debug("pyproject.toml unusable, falling back to script execution", "err", err)
		}
		return nil, false
	}
	if !meta.IsStatic() {
		return nil, false
	}
	return meta, true
}

// staticRecord converts static pyproject metadata into the same record shape
// the instrumented script produces, so downstream consumers see one format.
func staticRecord(meta *pyproject.Metadata) *artifact.Record {
	fields := map[string]any{
		"name":    meta.Name,
		"version": meta.Version,
	}
	if len(meta.Dependencies) > 0 {
		deps := make([]any, len(meta.Dependencies))
		for i, d := range meta.Dependencies {
			deps[i] = d
		}
		fields["install_requires"] = deps
	}
	if meta.RequiresPython != "" {
		fields["python_requires"] = meta.RequiresPython
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		// Fields hold only strings and string slices.
		raw = nil
	}
	return &artifact.Record{Raw: raw, Fields: fields}
}
