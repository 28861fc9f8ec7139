// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package sandbox

import (
	"context"
	"errors"
)

// ErrRootRefused mirrors the unix declaration so callers compile everywhere.
var ErrRootRefused = errors.New("refusing to run untrusted code as root; configure sandbox.user or use the container provider")

type (
	// ProcessProvider is only implemented on unix platforms, where process
	// groups give a reliable way to terminate everything a script spawned.
	ProcessProvider struct{}

	// ProcessProviderOption configures a ProcessProvider.
	ProcessProviderOption func(*ProcessProvider)
)

// WithDropToUser is a no-op on this platform.
func WithDropToUser(uid, gid int) ProcessProviderOption {
	return func(*ProcessProvider) {}
}

// NewProcessProvider creates a process provider stub.
func NewProcessProvider(opts ...ProcessProviderOption) *ProcessProvider {
	p := &ProcessProvider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *ProcessProvider) Name() string { return "process" }

// Exec implements Provider.
func (p *ProcessProvider) Exec(context.Context, string, ExecSpec) (*ExecResult, error) {
	return nil, errors.New("process provider is not supported on this platform; use the container provider")
}
