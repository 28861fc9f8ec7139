// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// runPrepareHook executes the hook snippet inside dir with the embedded
// shell interpreter. Hooks are trusted operator configuration, not package
// content, so they run on the host; the untrusted script itself never does.
func runPrepareHook(ctx context.Context, dir, hook string) error {
	parser := syntax.NewParser()
	prog, err := parser.Parse(strings.NewReader(hook), "prepare")
	if err != nil {
		return fmt.Errorf("parse prepare hook: %w", err)
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(nil, os.Stderr, os.Stderr),
	)
	if err != nil {
		return fmt.Errorf("create hook interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return fmt.Errorf("prepare hook exited with status %d", int(exitStatus))
		}
		return fmt.Errorf("prepare hook failed: %w", err)
	}
	return nil
}
