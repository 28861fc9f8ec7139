// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"os"
	"sync"
)

// HostSandbox type constants.
const (
	// HostSandboxNone indicates no application sandbox was detected.
	HostSandboxNone HostSandbox = ""
	// HostSandboxFlatpak indicates the process runs inside a Flatpak sandbox.
	HostSandboxFlatpak HostSandbox = "flatpak"
	// HostSandboxSnap indicates the process runs inside a Snap sandbox.
	HostSandboxSnap HostSandbox = "snap"
)

// HostSandbox identifies the application sandbox wrapping this process, if
// any. This is about the environment setupx itself runs in, not about the
// disposable sandbox setupx creates for untrusted build scripts.
type HostSandbox string

// detectOnce caches detection for the process lifetime. sync.OnceValue
// propagates panics on every call, so the detection function must not panic.
var detectOnce = sync.OnceValue(func() HostSandbox {
	return detectFrom(os.Getenv, statFile)
})

// Detect returns the application sandbox the current process runs in.
// The result is cached after the first call.
//
// Flatpak is detected via the /.flatpak-info file, which is always present
// inside Flatpak sandboxes. Snap is detected via the SNAP_NAME variable.
func Detect() HostSandbox {
	return detectOnce()
}

// SpawnCommandFor returns the helper binary used to run a command on the
// host system from inside the given sandbox, or "" when no wrapping is
// needed. Pure function so tests don't depend on cached process state.
func SpawnCommandFor(hs HostSandbox) string {
	switch hs {
	case HostSandboxFlatpak:
		return "flatpak-spawn"
	case HostSandboxSnap:
		return "snap"
	default:
		return ""
	}
}

// SpawnArgsFor returns the arguments to prepend before the real command
// when spawning on the host from inside the given sandbox.
func SpawnArgsFor(hs HostSandbox) []string {
	switch hs {
	case HostSandboxFlatpak:
		return []string{"--host"}
	case HostSandboxSnap:
		return []string{"run", "--shell"}
	default:
		return nil
	}
}

// detectFrom performs detection using injected lookups so tests can exercise
// both branches without mutating process-wide state.
func detectFrom(lookupEnv func(string) string, stat func(string) error) HostSandbox {
	if err := stat("/.flatpak-info"); err == nil {
		return HostSandboxFlatpak
	}
	if lookupEnv("SNAP_NAME") != "" {
		return HostSandboxSnap
	}
	return HostSandboxNone
}

func statFile(path string) error {
	_, err := os.Stat(path)
	return err
}
