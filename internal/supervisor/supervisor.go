// SPDX-License-Identifier: MPL-2.0

// Package supervisor drives interpreter fallback: it runs the rewritten
// script under each candidate interpreter in turn, each attempt under its
// own hard timeout, and stops at the first success. Per-attempt outcomes are
// collected so exhaustion can be reported with full context.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"setupx-cli/internal/sandbox"
)

const (
	// DefaultTimeout bounds one interpreter attempt.
	DefaultTimeout = 60 * time.Second
	// DefaultGrace is the window between graceful termination and kill.
	DefaultGrace = 5 * time.Second
	// DefaultStderrTail is how much trailing stderr is kept per attempt.
	DefaultStderrTail = 4096
)

// DefaultInterpreters is the candidate order when none is configured.
// Modern Python first; the legacy names cover pre-transition packages.
var DefaultInterpreters = []string{"python3", "python2", "python"}

type (
	// AttemptStatus classifies one interpreter attempt.
	AttemptStatus string

	// Attempt records the outcome of running the script under one
	// interpreter.
	Attempt struct {
		// Interpreter is the candidate that was tried.
		Interpreter string
		// Status classifies the outcome.
		Status AttemptStatus
		// ExitCode is the script's exit status; meaningful only for
		// StatusSucceeded and StatusFailed.
		ExitCode int
		// Duration is how long the attempt ran.
		Duration time.Duration
		// StderrTail holds the last bytes of the attempt's stderr, for
		// triage. Bounded by Options.StderrTailSize.
		StderrTail string
	}

	// Report is the aggregate outcome of the fallback loop.
	Report struct {
		// Attempts lists every attempt in execution order.
		Attempts []Attempt
		// Winner is the interpreter that succeeded; empty when all
		// candidates were exhausted.
		Winner string
	}

	// Options configures a supervision run. Zero values fall back to the
	// package defaults.
	Options struct {
		// Interpreters is the candidate order.
		Interpreters []string
		// Script is the file to run, relative to the sandbox directory.
		Script string
		// Timeout bounds each attempt.
		Timeout time.Duration
		// Grace is the termination escalation window.
		Grace time.Duration
		// Env contains extra environment variables for every attempt.
		Env map[string]string
		// StderrTailSize bounds per-attempt stderr retention in bytes.
		StderrTailSize int
		// BeforeAttempt, when set, runs before every interpreter attempt.
		// Callers use it to reset sandbox state a prior attempt (or the
		// source tree itself) may have left behind. Its error aborts the
		// whole run.
		BeforeAttempt func() error
	}
)

const (
	// StatusSucceeded means the script exited zero.
	StatusSucceeded AttemptStatus = "succeeded"
	// StatusFailed means the script exited non-zero.
	StatusFailed AttemptStatus = "failed"
	// StatusTimedOut means the attempt hit its deadline and was terminated.
	StatusTimedOut AttemptStatus = "timed out"
	// StatusInterpreterMissing means the candidate interpreter does not
	// exist in the sandbox's execution environment.
	StatusInterpreterMissing AttemptStatus = "interpreter missing"
)

// Succeeded reports whether any attempt won.
func (r *Report) Succeeded() bool { return r.Winner != "" }

// Exhausted reports whether every candidate was tried without success.
func (r *Report) Exhausted() bool { return r.Winner == "" }

func (o *Options) withDefaults() Options {
	out := *o
	if len(out.Interpreters) == 0 {
		out.Interpreters = DefaultInterpreters
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Grace <= 0 {
		out.Grace = DefaultGrace
	}
	if out.StderrTailSize <= 0 {
		out.StderrTailSize = DefaultStderrTail
	}
	return out
}

// Run executes the fallback loop inside sb. It returns an error only for
// infrastructure failures (sandbox unusable, engine broken); a fully
// exhausted candidate list is a normal Report, not an error.
func Run(ctx context.Context, sb *sandbox.Sandbox, opts Options) (*Report, error) {
	if opts.Script == "" {
		return nil, errors.New("no script configured")
	}
	opts = opts.withDefaults()

	report := &Report{Attempts: make([]Attempt, 0, len(opts.Interpreters))}
	for _, interpreter := range opts.Interpreters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.BeforeAttempt != nil {
			if err := opts.BeforeAttempt(); err != nil {
				return nil, err
			}
		}

		attempt, err := runOne(ctx, sb, interpreter, opts)
		if err != nil {
			return nil, err
		}
		report.Attempts = append(report.Attempts, *attempt)

		log.Debug("interpreter attempt finished",
			"interpreter", interpreter,
			"status", attempt.Status,
			"exit", attempt.ExitCode,
			"duration", attempt.Duration.Round(time.Millisecond))

		if attempt.Status == StatusSucceeded {
			report.Winner = interpreter
			break
		}
	}
	return report, nil
}

func runOne(ctx context.Context, sb *sandbox.Sandbox, interpreter string, opts Options) (*Attempt, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tail := newTailBuffer(opts.StderrTailSize)
	start := time.Now()
	result, err := sb.Exec(attemptCtx, sandbox.ExecSpec{
		Command:     []string{interpreter, opts.Script},
		Env:         opts.Env,
		GracePeriod: opts.Grace,
		Stderr:      tail,
	})
	if err != nil {
		return nil, err
	}

	attempt := &Attempt{
		Interpreter: interpreter,
		Duration:    time.Since(start),
		StderrTail:  tail.String(),
	}
	switch {
	case result.StartNotFound:
		attempt.Status = StatusInterpreterMissing
	case result.TimedOut:
		attempt.Status = StatusTimedOut
	case result.ExitCode == 0:
		attempt.Status = StatusSucceeded
	default:
		attempt.Status = StatusFailed
		attempt.ExitCode = result.ExitCode
	}
	return attempt, nil
}
