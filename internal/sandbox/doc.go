// SPDX-License-Identifier: MPL-2.0

// Package sandbox provides disposable, privilege-restricted execution
// contexts for untrusted build scripts. A sandbox owns a private writable
// copy of the package source tree; the canonical input is never mutated.
// Each extraction request gets its own sandbox, and Release discards it on
// every exit path.
//
// Two providers exist: the container provider (default) runs scripts in a
// throwaway docker/podman container with no network and an unprivileged
// user, and the process provider runs them directly on the host for trusted
// environments and tests, refusing to execute as root.
package sandbox
