// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"setupx-cli/internal/config"
	"setupx-cli/internal/container"
	"setupx-cli/internal/extract"
	"setupx-cli/internal/sandbox"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: Cobra command handlers receive an App reference
	// and delegate business logic through its service interfaces.
	App struct {
		Config  ConfigProvider
		Sandbox SandboxFactory
		Extract ExtractFunc
		stdout  io.Writer
		stderr  io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp. Tests can
	// supply mock implementations to isolate specific behavior.
	Dependencies struct {
		Config  ConfigProvider
		Sandbox SandboxFactory
		Extract ExtractFunc
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	// This abstraction enables testing with custom config sources.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// SandboxFactory builds a sandbox provider from resolved settings.
	// The production implementation talks to container engines; tests
	// substitute an in-memory provider.
	SandboxFactory interface {
		New(ctx context.Context, cfg config.SandboxConfig) (sandbox.Provider, error)
	}

	// ExtractFunc runs one extraction against a sandbox provider.
	ExtractFunc func(ctx context.Context, provider sandbox.Provider, req extract.Request) (*extract.Outcome, error)

	// defaultSandboxFactory builds real providers: container engines per the
	// engine choice, or the host-process provider.
	defaultSandboxFactory struct{}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Sandbox == nil {
		deps.Sandbox = defaultSandboxFactory{}
	}
	if deps.Extract == nil {
		deps.Extract = extract.Run
	}

	return &App{
		Config:  deps.Config,
		Sandbox: deps.Sandbox,
		Extract: deps.Extract,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}
}

// New builds the sandbox provider the settings ask for. For the container
// provider this includes engine detection and making sure the image is
// present locally, so a prepared provider can fail fast before any copy
// of the source tree is made.
func (defaultSandboxFactory) New(ctx context.Context, cfg config.SandboxConfig) (sandbox.Provider, error) {
	switch cfg.Provider {
	case config.ProviderProcess:
		return newProcessProvider(cfg)
	case config.ProviderContainer, "":
		return newContainerProvider(ctx, cfg)
	default:
		return nil, &config.InvalidSandboxProviderError{Value: cfg.Provider}
	}
}

func newProcessProvider(cfg config.SandboxConfig) (sandbox.Provider, error) {
	if cfg.User == "" {
		return sandbox.NewProcessProvider(), nil
	}

	uid, gid, err := parseUserSpec(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("sandbox.user %q: %w", cfg.User, err)
	}
	return sandbox.NewProcessProvider(sandbox.WithDropToUser(uid, gid)), nil
}

func newContainerProvider(ctx context.Context, cfg config.SandboxConfig) (sandbox.Provider, error) {
	engine, err := engineFor(cfg.Engine)
	if err != nil {
		return nil, err
	}

	var opts []sandbox.ContainerProviderOption
	if cfg.Image != "" {
		opts = append(opts, sandbox.WithImage(container.ImageTag(cfg.Image)))
	}
	if cfg.User != "" {
		opts = append(opts, sandbox.WithUser(cfg.User))
	}

	provider := sandbox.NewContainerProvider(engine, opts...)
	if err := provider.EnsureImage(ctx); err != nil {
		return nil, fmt.Errorf("prepare image %s: %w", provider.Image(), err)
	}
	return provider, nil
}

func engineFor(choice config.EngineChoice) (container.Engine, error) {
	switch choice {
	case config.EngineDocker:
		return container.NewEngine(container.EngineTypeDocker)
	case config.EnginePodman:
		return container.NewEngine(container.EngineTypePodman)
	case config.EngineAuto, "":
		return container.AutoDetectEngine()
	default:
		return nil, &config.InvalidEngineChoiceError{Value: choice}
	}
}

// parseUserSpec splits a numeric "uid" or "uid:gid" account spec. The gid
// defaults to the uid when omitted, matching container CLI semantics.
func parseUserSpec(spec string) (uid, gid int, err error) {
	uidPart, gidPart, hasGid := strings.Cut(spec, ":")

	uid, err = strconv.Atoi(uidPart)
	if err != nil {
		return 0, 0, fmt.Errorf("uid must be numeric: %q", uidPart)
	}

	gid = uid
	if hasGid {
		gid, err = strconv.Atoi(gidPart)
		if err != nil {
			return 0, 0, fmt.Errorf("gid must be numeric: %q", gidPart)
		}
	}

	if uid < 0 || gid < 0 {
		return 0, 0, fmt.Errorf("uid and gid must be non-negative: %q", spec)
	}
	return uid, gid, nil
}
