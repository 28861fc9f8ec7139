// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// IsTransientError reports whether err is a transient engine failure worth
// retrying: network glitches during image pulls, rootless podman races, and
// storage driver mount races. Context cancellation and deadline expiry are
// never transient — the caller stopped the operation on purpose.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Exit code 125 is the engines' generic internal failure, often a
	// transient storage or cgroup problem.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	errStr := err.Error()

	// Rootless podman races and OCI runtime hiccups.
	if strings.Contains(errStr, "ping_group_range") ||
		strings.Contains(errStr, "OCI runtime error") {
		return true
	}

	// Network errors during image pull.
	if strings.Contains(errStr, "Temporary failure resolving") ||
		strings.Contains(errStr, "Could not resolve host") ||
		strings.Contains(errStr, "connection timed out") ||
		strings.Contains(errStr, "connection refused") {
		return true
	}

	// Overlay mount races on rootless podman.
	if strings.Contains(errStr, "error creating overlay mount") ||
		strings.Contains(errStr, "error mounting layer") {
		return true
	}

	return false
}
