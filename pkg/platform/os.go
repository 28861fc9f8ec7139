// SPDX-License-Identifier: MPL-2.0

package platform

// OS name constants for runtime.GOOS comparisons, centralized so the
// literals aren't scattered across packages.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)
