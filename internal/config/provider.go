// SPDX-License-Identifier: MPL-2.0

package config

import "context"

// LoadOptions names the inputs one Load call resolves against. Both fields
// are optional; with neither set the platform config directory is searched.
type LoadOptions struct {
	// ConfigFilePath loads exactly this file, typically from the --config
	// flag. The directory search is skipped entirely.
	ConfigFilePath string
	// ConfigDirPath searches this directory instead of the platform one.
	ConfigDirPath string
}

// Provider resolves the effective extraction configuration. The App
// composition root injects a fake in command tests.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
}

// cueProvider loads CUE config files from disk, validated against the
// embedded schema.
type cueProvider struct{}

// NewProvider returns the file-backed configuration provider.
func NewProvider() Provider {
	return &cueProvider{}
}

// Load implements Provider.
func (p *cueProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
