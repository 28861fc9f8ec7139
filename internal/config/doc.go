// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/setupx/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/setupx/config.cue on macOS, %APPDATA%\setupx\config.cue
// on Windows). The package provides type-safe access to interpreter fallback order,
// per-attempt timeouts, sandbox provider selection, and UI settings.
//
// Configuration validation is performed against a CUE schema (config_schema.cue) to ensure
// type safety and provide clear error messages for invalid configurations.
package config
