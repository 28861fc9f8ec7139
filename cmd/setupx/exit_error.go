// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

// Exit codes form the process contract with callers: scripts branch on them
// instead of parsing output.
const (
	// ExitSuccess means an attempt succeeded and the artifact was readable
	// (or the static fast path satisfied the request).
	ExitSuccess = 0
	// ExitExhausted means every interpreter candidate failed.
	ExitExhausted = 1
	// ExitUsage means the request itself was unusable: bad flags, bad
	// config, unreadable source tree, no sandbox available.
	ExitUsage = 2
	// ExitArtifactAbsent means the script finished cleanly but never
	// produced a readable metadata artifact.
	ExitArtifactAbsent = 3
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}
