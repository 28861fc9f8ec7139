// SPDX-License-Identifier: MPL-2.0

//go:build unix

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// ErrRootRefused is returned when the process provider would run untrusted
// code as root without a configured unprivileged identity.
var ErrRootRefused = errors.New("refusing to run untrusted code as root; configure sandbox.user or use the container provider")

type (
	// ProcessProvider runs commands as host processes in their own process
	// group. It offers weaker isolation than the container provider and is
	// meant for environments where no container engine is available.
	ProcessProvider struct {
		// DropToUID and DropToGID, when both non-negative, are the identity
		// the child is started under. Required when the current process is
		// root.
		DropToUID int
		DropToGID int
	}

	// ProcessProviderOption configures a ProcessProvider.
	ProcessProviderOption func(*ProcessProvider)
)

// WithDropToUser sets the uid:gid the child process is started as.
func WithDropToUser(uid, gid int) ProcessProviderOption {
	return func(p *ProcessProvider) {
		p.DropToUID = uid
		p.DropToGID = gid
	}
}

// NewProcessProvider creates a process provider. Without WithDropToUser the
// child inherits the current identity, which is rejected at Exec time when
// that identity is root.
func NewProcessProvider(opts ...ProcessProviderOption) *ProcessProvider {
	p := &ProcessProvider{DropToUID: -1, DropToGID: -1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *ProcessProvider) Name() string { return "process" }

// Exec implements Provider. The child is placed in a fresh process group so
// that termination reaches everything the script spawned. On deadline the
// group receives SIGTERM, then SIGKILL after spec.GracePeriod.
func (p *ProcessProvider) Exec(ctx context.Context, dir string, spec ExecSpec) (*ExecResult, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("empty command")
	}

	credential, err := p.credential()
	if err != nil {
		return nil, err
	}

	binary, err := exec.LookPath(spec.Command[0])
	if err != nil {
		// Missing interpreter is an expected per-attempt outcome, not a
		// provider failure.
		return &ExecResult{StartNotFound: true}, nil
	}

	// Not CommandContext: context expiry must kill the whole group with an
	// escalation window, not just signal the direct child.
	cmd := exec.Command(binary, spec.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = mergedEnv(spec.Env)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: credential,
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return &ExecResult{StartNotFound: true}, nil
		}
		return nil, fmt.Errorf("start %s: %w", spec.Command[0], err)
	}
	pgid := cmd.Process.Pid

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return resultFromWait(err)
	case <-ctx.Done():
		killGroup(pgid, spec.GracePeriod, waitErr)
		// Only a missed deadline is a timeout; user cancellation aborts
		// the run instead of being reported as an attempt outcome.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ExecResult{TimedOut: true}, nil
		}
		return nil, ctx.Err()
	}
}

func (p *ProcessProvider) credential() (*syscall.Credential, error) {
	if p.DropToUID >= 0 && p.DropToGID >= 0 {
		return &syscall.Credential{
			Uid: uint32(p.DropToUID),
			Gid: uint32(p.DropToGID),
		}, nil
	}
	if os.Geteuid() == 0 {
		return nil, ErrRootRefused
	}
	return nil, nil
}

// killGroup terminates pgid's process group: SIGTERM first, SIGKILL once the
// grace period elapses without the child exiting.
func killGroup(pgid int, grace time.Duration, waitErr <-chan error) {
	if grace <= 0 {
		grace = time.Second
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-waitErr:
		return
	case <-time.After(grace):
	}
	log.Debug("process group survived SIGTERM, escalating", "pgid", pgid, "grace", grace)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-waitErr
}

func resultFromWait(err error) (*ExecResult, error) {
	if err == nil {
		return &ExecResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExecResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return nil, err
}

// mergedEnv overlays extra on the current environment, keys sorted for
// stable command construction.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
