// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"setupx-cli/pkg/platform"
)

// PodmanEngine implements Engine over the Podman CLI.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine creates a Podman engine. On Linux with SELinux enforcing,
// volume mounts are labeled :z so the container may access them, and
// rootless invocations get --userns=keep-id so bind-mounted paths keep
// their host ownership inside the user namespace.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")

	allOpts := []BaseCLIEngineOption{WithVolumeFormatter(selinuxVolumeFormat)}
	if runtime.GOOS == platform.Linux && os.Geteuid() != 0 {
		allOpts = append(allOpts, WithRunArgsTransformer(makeUsernsKeepIDAdder()))
	}
	allOpts = append(allOpts, opts...)

	return &PodmanEngine{
		BaseCLIEngine: NewBaseCLIEngine(string(EngineTypePodman), path, allOpts...),
	}
}

// runValueFlags are `run` flags that consume the following argument.
var runValueFlags = map[string]bool{
	"-e": true, "-p": true, "-v": true, "-w": true,
	"--add-host": true, "--env": true, "--name": true, "--network": true,
	"--publish": true, "--user": true, "--volume": true, "--workdir": true,
}

// makeUsernsKeepIDAdder returns a transformer that inserts --userns=keep-id
// immediately before the image name in a run argument slice.
func makeUsernsKeepIDAdder() RunArgsTransformer {
	return func(args []string) []string {
		if len(args) == 0 || args[0] != "run" {
			return args
		}
		for i := 1; i < len(args); i++ {
			arg := args[i]
			if runValueFlags[arg] {
				i++
				continue
			}
			if strings.HasPrefix(arg, "-") {
				continue
			}
			// First positional argument is the image.
			out := make([]string, 0, len(args)+1)
			out = append(out, args[:i]...)
			out = append(out, "--userns=keep-id")
			out = append(out, args[i:]...)
			return out
		}
		return append(args, "--userns=keep-id")
	}
}

// Available checks that the podman binary exists and responds.
func (e *PodmanEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.CreateCommand(context.Background(), "version", "--format", "{{.Version}}")
	return cmd.Run() == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// selinuxVolumeFormat appends the shared SELinux label to mounts when the
// host enforces SELinux. Without the label, the confined container process
// gets EACCES on every bind-mounted path.
func selinuxVolumeFormat(v VolumeMount) string {
	if v.SELinux == SELinuxLabelNone && selinuxEnforcing() {
		v.SELinux = SELinuxLabelShared
	}
	return defaultVolumeFormat(v)
}

func selinuxEnforcing() bool {
	if runtime.GOOS != platform.Linux {
		return false
	}
	data, err := os.ReadFile("/sys/fs/selinux/enforce")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}
