// SPDX-License-Identifier: MPL-2.0

// Package container wraps the docker and podman CLIs behind a small Engine
// interface. It provides exactly what sandboxed build-script execution
// needs: run a short-lived container with bind mounts, an unprivileged
// user, and no network, and force-remove it when it misbehaves.
package container

import (
	"context"
	"fmt"
	"time"
)

// Engine is the interface over a container CLI.
type Engine interface {
	// Name returns the engine name (docker or podman).
	Name() string
	// Available checks if the engine is installed and its daemon reachable.
	Available() bool
	// Version returns the engine version.
	Version(ctx context.Context) (string, error)
	// BinaryPath returns the path to the engine binary.
	BinaryPath() string

	// Run runs a command in a fresh container and waits for it.
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
	// Stop stops a container: SIGTERM, then SIGKILL after grace.
	Stop(ctx context.Context, container string, grace time.Duration) error
	// Remove removes a container by name or ID.
	Remove(ctx context.Context, container string, force bool) error
	// ImageExists checks whether an image is present locally.
	ImageExists(ctx context.Context, image ImageTag) (bool, error)
	// Pull fetches an image from its registry.
	Pull(ctx context.Context, image ImageTag) error
}

// EngineType identifies the container engine type.
type EngineType string

const (
	EngineTypeDocker EngineType = "docker"
	EngineTypePodman EngineType = "podman"
)

// ErrEngineNotAvailable is returned when no usable container engine exists.
type ErrEngineNotAvailable struct {
	Engine string
	Reason string
}

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine creates a container engine of the preferred type, falling back
// to the other CLI when the preferred one is unusable.
func NewEngine(preferred EngineType) (Engine, error) {
	switch preferred {
	case EngineTypeDocker:
		if engine := NewDockerEngine(); engine.Available() {
			return engine, nil
		}
		if engine := NewPodmanEngine(); engine.Available() {
			return engine, nil
		}
		return nil, &ErrEngineNotAvailable{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	case EngineTypePodman:
		if engine := NewPodmanEngine(); engine.Available() {
			return engine, nil
		}
		if engine := NewDockerEngine(); engine.Available() {
			return engine, nil
		}
		return nil, &ErrEngineNotAvailable{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}
}

// AutoDetectEngine finds any available container engine, docker first.
func AutoDetectEngine() (Engine, error) {
	if engine := NewDockerEngine(); engine.Available() {
		return engine, nil
	}
	if engine := NewPodmanEngine(); engine.Available() {
		return engine, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: "auto",
		Reason: "neither docker nor podman is installed and accessible",
	}
}
