// SPDX-License-Identifier: MPL-2.0

// Package platform detects properties of the host environment that affect
// how external processes must be spawned, such as running inside a Flatpak
// or Snap application sandbox where container engine binaries live on the
// host rather than inside the sandbox.
package platform
