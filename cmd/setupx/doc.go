// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for setupx.
//
// This package implements the Cobra command hierarchy for the setupx CLI:
// the root command, the extraction pipeline entry points (extract, fetch),
// debugging aids (rewrite), configuration management, and shell completion.
package cmd
