// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	BuildScriptNotFoundId Id = iota + 1
	ContainerEngineNotFoundId
	SandboxSetupFailedId
	ExtractionExhaustedId
	ArtifactMissingId
	ConfigLoadFailedId
	InterpreterListEmptyId
	RootExecutionRefusedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to look up the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation links, shown under "See also"
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	buildScriptNotFoundIssue = &Issue{
		id: BuildScriptNotFoundId,
		mdMsg: `
# No build script found!

The source tree does not contain the expected build script
(usually setup.py).

## Things you can try:
- Check that the path points at the root of an extracted sdist
- If the archive wrapped everything in a single directory, point
  at that directory instead
- For packages with only a pyproject.toml, use the static path:
~~~
$ setupx extract --static-first <dir>
~~~`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine available!

Sandboxed extraction needs Docker or Podman, and neither was usable.

## Things you can try:
- Install Docker or Podman
- Check that the engine daemon/socket is running:
~~~
$ docker version
~~~

- Ensure your user may talk to the engine (docker group, rootless podman)
- On a trusted host you can fall back to the process provider:
~~~cue
sandbox: provider: "process"
~~~`,
	}

	sandboxSetupFailedIssue = &Issue{
		id: SandboxSetupFailedId,
		mdMsg: `
# Sandbox setup failed!

The disposable copy of the source tree could not be created.

## Common causes:
- The temp directory is full or unwritable
- Unreadable files inside the source tree
- The source path does not exist

## Things you can try:
- Check free space in $TMPDIR
- Verify read permission on the whole source tree`,
	}

	extractionExhaustedIssue = &Issue{
		id: ExtractionExhaustedId,
		mdMsg: `
# Extraction exhausted all interpreters!

Every configured interpreter failed to run the rewritten build script.
This usually means the script is broken for every Python available in
the sandbox image, or the script hung and was killed on timeout.

## Things you can try:
- Re-run with --verbose to see the per-attempt outcomes
- Add or reorder interpreter candidates:
~~~cue
interpreters: ["python3.11", "python3", "python2"]
~~~

- Raise the timeout for slow setup.py scripts:
~~~cue
timeout: "120s"
~~~`,
	}

	artifactMissingIssue = &Issue{
		id: ArtifactMissingId,
		mdMsg: `
# Script succeeded but produced no metadata!

An interpreter ran the rewritten script to completion, yet no artifact
appeared. The script likely never calls setup() at module level (e.g.,
it hides the call behind __main__ guards or custom command logic).

This is a data-quality signal about the package, not an extractor
failure.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded!

The config file exists but could not be parsed or validated.

## Things you can try:
- Check the CUE syntax of your config file
- Compare against the defaults:
~~~
$ setupx config show
~~~

- Remove the file to fall back to built-in defaults`,
	}

	interpreterListEmptyIssue = &Issue{
		id: InterpreterListEmptyId,
		mdMsg: `
# Empty interpreter candidate list!

At least one interpreter candidate is required.

## Things you can try:
- Set candidates in your config file:
~~~cue
interpreters: ["python3", "python2", "python"]
~~~

- Or pass them on the command line:
~~~
$ setupx extract --interpreter python3 <dir>
~~~`,
	}

	rootExecutionRefusedIssue = &Issue{
		id: RootExecutionRefusedId,
		mdMsg: `
# Refusing to run untrusted code as root!

The process sandbox provider was selected while running as root, and no
unprivileged user is configured to drop to.

## Things you can try:
- Run setupx as a regular user
- Configure an unprivileged identity:
~~~cue
sandbox: user: "65534:65534"
~~~

- Or use the container provider, which never runs the script as root`,
	}

	issues = map[Id]*Issue{
		buildScriptNotFoundIssue.Id():     buildScriptNotFoundIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		sandboxSetupFailedIssue.Id():      sandboxSetupFailedIssue,
		extractionExhaustedIssue.Id():     extractionExhaustedIssue,
		artifactMissingIssue.Id():         artifactMissingIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		interpreterListEmptyIssue.Id():    interpreterListEmptyIssue,
		rootExecutionRefusedIssue.Id():    rootExecutionRefusedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
