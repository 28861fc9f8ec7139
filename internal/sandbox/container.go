// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"setupx-cli/internal/container"
)

const (
	// DefaultImage is the image used when none is configured.
	DefaultImage container.ImageTag = "docker.io/library/python:3"
	// DefaultContainerUser is the unprivileged identity scripts run as.
	DefaultContainerUser = "65534:65534"
	// containerWorkDir is where the private copy is mounted.
	containerWorkDir = "/work"

	// exitCommandNotFound is the shell convention for a missing binary,
	// reported by the engine when the image lacks the interpreter.
	exitCommandNotFound = 127

	pullAttempts = 3
	pullBackoff  = 2 * time.Second
)

type (
	// ContainerProvider runs commands in disposable containers: no network,
	// unprivileged user, the sandbox directory bind-mounted read-write at
	// /work and nothing else shared with the host.
	ContainerProvider struct {
		engine container.Engine
		image  container.ImageTag
		user   string
	}

	// ContainerProviderOption configures a ContainerProvider.
	ContainerProviderOption func(*ContainerProvider)
)

// WithImage overrides the container image.
func WithImage(image container.ImageTag) ContainerProviderOption {
	return func(p *ContainerProvider) {
		if image != "" {
			p.image = image
		}
	}
}

// WithUser overrides the uid[:gid] scripts run as.
func WithUser(user string) ContainerProviderOption {
	return func(p *ContainerProvider) {
		if user != "" {
			p.user = user
		}
	}
}

// NewContainerProvider creates a provider backed by the given engine.
func NewContainerProvider(engine container.Engine, opts ...ContainerProviderOption) *ContainerProvider {
	p := &ContainerProvider{
		engine: engine,
		image:  DefaultImage,
		user:   DefaultContainerUser,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *ContainerProvider) Name() string { return "container" }

// Image returns the configured image.
func (p *ContainerProvider) Image() container.ImageTag { return p.image }

// EnsureImage pulls the configured image if it is not present locally,
// retrying transient registry failures.
func (p *ContainerProvider) EnsureImage(ctx context.Context) error {
	exists, err := p.engine.ImageExists(ctx, p.image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Info("pulling image", "image", p.image, "engine", p.engine.Name())
	return container.RetryWithBackoff(ctx, pullAttempts, pullBackoff,
		func(attempt int) (bool, error) {
			err := p.engine.Pull(ctx, p.image)
			if err != nil && container.IsTransientError(err) {
				log.Warn("image pull failed, retrying", "attempt", attempt+1, "err", err)
				return true, err
			}
			return false, err
		})
}

// Exec implements Provider. The run is named so that on deadline expiry the
// container itself can be stopped (graceful signal, then kill after
// spec.GracePeriod) rather than merely abandoning the engine client.
func (p *ContainerProvider) Exec(ctx context.Context, dir string, spec ExecSpec) (*ExecResult, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("empty command")
	}

	// The container user does not match the host owner of the copy; without
	// this the script can neither read the sources nor write the artifact.
	if err := openForContainerUser(dir); err != nil {
		return nil, fmt.Errorf("prepare sandbox permissions: %w", err)
	}

	name, err := containerName()
	if err != nil {
		return nil, err
	}

	// Untrusted scripts can exit 127 themselves; only the runtime's own
	// missing-binary message on stderr makes that exit code mean the image
	// lacks the interpreter.
	scan := &notFoundScanner{next: spec.Stderr}

	opts := container.RunOptions{
		Image:   p.image,
		Command: spec.Command,
		WorkDir: containerWorkDir,
		User:    p.user,
		Network: container.NetworkNone,
		Env:     spec.Env,
		Volumes: []container.VolumeMount{{
			HostPath:      dir,
			ContainerPath: containerWorkDir,
			SELinux:       container.SELinuxLabelPrivate,
		}},
		Remove: true,
		Name:   name,
		Stdout: spec.Stdout,
		Stderr: scan,
	}

	// The engine client must not be killed by the attempt deadline; the
	// container is what gets stopped, below.
	runCtx := context.WithoutCancel(ctx)

	type runOutcome struct {
		result *container.RunResult
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := p.engine.Run(runCtx, opts)
		done <- runOutcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result.Error != nil {
			return nil, out.result.Error
		}
		if out.result.ExitCode == exitCommandNotFound && scan.sawRuntimeNotFound() {
			return &ExecResult{StartNotFound: true}, nil
		}
		return &ExecResult{ExitCode: out.result.ExitCode}, nil
	case <-ctx.Done():
		p.terminate(name, spec.GracePeriod)
		<-done
		// Only a missed deadline is a timeout; user cancellation aborts
		// the run instead of being reported as an attempt outcome.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ExecResult{TimedOut: true}, nil
		}
		return nil, ctx.Err()
	}
}

// terminate stops and removes the named container. It runs under its own
// deadline since the attempt context is already expired.
func (p *ContainerProvider) terminate(name string, grace time.Duration) {
	if grace <= 0 {
		grace = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace+30*time.Second)
	defer cancel()

	if err := p.engine.Stop(ctx, name, grace); err != nil {
		log.Debug("container stop failed", "container", name, "err", err)
	}
	if err := p.engine.Remove(ctx, name, true); err != nil {
		log.Debug("container remove failed", "container", name, "err", err)
	}
}

func openForContainerUser(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm() | 0o666
		if d.IsDir() {
			mode |= 0o777
		}
		return os.Chmod(path, mode)
	})
}

// runtimeNotFoundMarkers are the stderr messages docker and podman emit
// when the image lacks the requested binary.
var runtimeNotFoundMarkers = []string{
	"executable file not found",
	"no such file or directory",
}

// notFoundScanner tees container stderr to the caller while keeping a
// bounded prefix, so a 127 exit can be checked for the engine's
// missing-binary message afterwards.
type notFoundScanner struct {
	next io.Writer
	buf  []byte
}

const notFoundScanLimit = 4096

// Write implements io.Writer.
func (s *notFoundScanner) Write(p []byte) (int, error) {
	if room := notFoundScanLimit - len(s.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		s.buf = append(s.buf, p[:room]...)
	}
	if s.next != nil {
		return s.next.Write(p)
	}
	return len(p), nil
}

func (s *notFoundScanner) sawRuntimeNotFound() bool {
	text := strings.ToLower(string(s.buf))
	for _, marker := range runtimeNotFoundMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func containerName() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate container name: %w", err)
	}
	return "setupx-" + hex.EncodeToString(buf[:]), nil
}
