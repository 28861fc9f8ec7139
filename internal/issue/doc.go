// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing error reporting: structured errors with
// operation/resource context and fix suggestions, plus a catalog of known
// failure conditions rendered as markdown for the terminal.
package issue
