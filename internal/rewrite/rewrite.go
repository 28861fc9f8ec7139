// SPDX-License-Identifier: MPL-2.0

package rewrite

import (
	"bytes"
	_ "embed"
	"regexp"
	"strings"
)

// DefaultArtifactName is the artifact path the embedded shim writes to when
// no override is requested.
const DefaultArtifactName = "output.json"

// DefaultScriptName is the conventional build script file name.
const DefaultScriptName = "setup.py"

//go:embed instrument.py
var instrumentSource string

// futureImportRe matches the start of a `from __future__ import` statement.
// The opening paren form (`import(division)`) is valid Python.
var futureImportRe = regexp.MustCompile(`^from[ \t]+__future__[ \t]+import[ \t(]`)

// codingCookieRe matches a PEP 263 encoding declaration, which is only
// honored on the first two lines of a file.
var codingCookieRe = regexp.MustCompile(`^[ \t]*#.*coding[:=][ \t]*[-\w.]+`)

// Script is the three-part model of a rewritten build script: the parts of
// the original that must stay syntactically first, and everything else.
// Instrumentation goes between the two.
type Script struct {
	// Preamble holds the shebang, coding cookie, module docstring and
	// `from __future__ import` statements, byte-for-byte as in the input.
	Preamble []byte
	// Body is the unmodified remainder of the original script.
	Body []byte
}

// Rewrite produces the instrumented variant of src: preamble, then the
// embedded recorder shim configured to write artifactName, then the original
// body. It never fails; unrecognizable input is passed through with the shim
// prepended, and execution surfaces any problem downstream.
func Rewrite(src []byte, artifactName string) []byte {
	return Split(src).Recombine(InstrumentationFor(artifactName))
}

// InstrumentationFor returns the recorder shim with its artifact path set to
// artifactName. An empty name keeps DefaultArtifactName.
func InstrumentationFor(artifactName string) []byte {
	shim := instrumentSource
	if artifactName != "" && artifactName != DefaultArtifactName {
		shim = strings.Replace(shim,
			"_SX_OUTPUT = '"+DefaultArtifactName+"'",
			"_SX_OUTPUT = '"+artifactName+"'", 1)
	}
	return []byte(shim)
}

// Recombine joins preamble, instrumentation, and body deterministically,
// inserting newlines only where a part does not already end with one.
func (s Script) Recombine(instrumentation []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(s.Preamble) + len(instrumentation) + len(s.Body) + 2)

	buf.Write(s.Preamble)
	if len(s.Preamble) > 0 && !bytes.HasSuffix(s.Preamble, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.Write(instrumentation)
	if len(instrumentation) > 0 && !bytes.HasSuffix(instrumentation, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.Write(s.Body)

	return buf.Bytes()
}

// Split separates src into preamble and body with a conservative line scan.
// The preamble takes the shebang line, a first-or-second-line coding cookie,
// blank and comment lines, one module docstring, and any number of
// `from __future__ import` statements (including parenthesized and
// backslash-continued forms). The first line that is none of these ends the
// scan. Splitting never fails: if the scan cannot follow the input, the
// remainder simply lands in the body.
func Split(src []byte) Script {
	lines := splitLines(src)

	i := 0
	if i < len(lines) && bytes.HasPrefix(lines[i], []byte("#!")) {
		i++
	}
	if i < 2 && i < len(lines) && codingCookieRe.Match(lines[i]) {
		i++
	}

	docstringSeen := false
scan:
	for i < len(lines) {
		trimmed := bytes.TrimSpace(lines[i])
		switch {
		case len(trimmed) == 0 || trimmed[0] == '#':
			i++
		case futureImportRe.Match(trimmed):
			next, ok := consumeStatement(lines, i)
			if !ok {
				break scan
			}
			i = next
		case !docstringSeen && isStringLiteralStart(trimmed):
			next, ok := consumeDocstring(lines, i)
			if !ok {
				break scan
			}
			docstringSeen = true
			i = next
		default:
			break scan
		}
	}

	return Script{Preamble: concat(lines[:i]), Body: concat(lines[i:])}
}

// splitLines splits src after every newline, keeping the terminators so that
// concatenating the pieces reproduces src exactly (CRLF included).
func splitLines(src []byte) [][]byte {
	var lines [][]byte
	for len(src) > 0 {
		i := bytes.IndexByte(src, '\n')
		if i < 0 {
			lines = append(lines, src)
			break
		}
		lines = append(lines, src[:i+1])
		src = src[i+1:]
	}
	return lines
}

func concat(lines [][]byte) []byte {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	out := make([]byte, 0, n)
	for _, l := range lines {
		out = append(out, l...)
	}
	return out
}

// consumeStatement advances past a statement starting at lines[i], following
// parenthesized and backslash continuations. Future imports contain no
// string literals, so cutting the line at '#' is safe here.
func consumeStatement(lines [][]byte, i int) (int, bool) {
	depth := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if c := bytes.IndexByte(line, '#'); c >= 0 {
			line = line[:c]
		}
		depth += bytes.Count(line, []byte("(")) - bytes.Count(line, []byte(")"))
		if depth < 0 {
			return 0, false
		}
		trimmed := bytes.TrimRight(line, " \t\r\n")
		if depth == 0 && !bytes.HasSuffix(trimmed, []byte("\\")) {
			return i + 1, true
		}
	}
	return 0, false
}

// isStringLiteralStart reports whether trimmed begins a string literal,
// allowing up to two prefix letters (r, b, u, f in either case).
func isStringLiteralStart(trimmed []byte) bool {
	j := 0
	for j < len(trimmed) && j < 2 && isStringPrefixLetter(trimmed[j]) {
		j++
	}
	return j < len(trimmed) && (trimmed[j] == '"' || trimmed[j] == '\'')
}

func isStringPrefixLetter(b byte) bool {
	switch b {
	case 'r', 'R', 'b', 'B', 'u', 'U', 'f', 'F':
		return true
	}
	return false
}

// consumeDocstring advances past a string literal starting at lines[i].
// Triple-quoted strings may span lines; single-quoted strings must close on
// the same line or the scan gives up (the script is unrunnable anyway).
// Escaped quotes are not tracked; the split is best-effort by contract.
func consumeDocstring(lines [][]byte, i int) (int, bool) {
	trimmed := bytes.TrimSpace(lines[i])

	j := 0
	for j < len(trimmed) && j < 2 && isStringPrefixLetter(trimmed[j]) {
		j++
	}
	q := trimmed[j:]

	var delim []byte
	switch {
	case bytes.HasPrefix(q, []byte(`"""`)):
		delim = []byte(`"""`)
	case bytes.HasPrefix(q, []byte(`'''`)):
		delim = []byte(`'''`)
	case len(q) > 0 && (q[0] == '"' || q[0] == '\''):
		delim = q[:1]
	default:
		return 0, false
	}

	after := q[len(delim):]
	if bytes.Contains(after, delim) {
		return i + 1, true
	}
	if len(delim) == 1 {
		return 0, false
	}
	for k := i + 1; k < len(lines); k++ {
		if bytes.Contains(lines[k], delim) {
			return k + 1, true
		}
	}
	return 0, false
}
