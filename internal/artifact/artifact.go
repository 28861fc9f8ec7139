// SPDX-License-Identifier: MPL-2.0

// Package artifact reads the structured metadata document produced by the
// instrumented build script. The document's content is passed through
// verbatim; this package checks existence and readability, not meaning.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAbsent is the sentinel error wrapped by AbsentError. It means the
// script exited successfully but never wrote the artifact — a data-quality
// signal about the package, distinct from a failed execution.
var ErrAbsent = errors.New("metadata artifact absent")

type (
	// Record is the captured parameter set of the packaging setup() call.
	// Raw holds the artifact bytes exactly as the script wrote them; Fields
	// is the decoded key/value view used by the typed accessors.
	Record struct {
		Raw    []byte
		Fields map[string]any
	}

	// AbsentError reports that no artifact existed at the expected path.
	AbsentError struct {
		Path string
	}

	// UnreadableError reports an artifact that exists but could not be read
	// or decoded. Unlike absence this usually means the untrusted script
	// wrote garbage over the artifact path.
	UnreadableError struct {
		Path  string
		Cause error
	}
)

// Error implements the error interface.
func (e *AbsentError) Error() string {
	return fmt.Sprintf("metadata artifact absent: %s", e.Path)
}

// Unwrap returns ErrAbsent so callers can use errors.Is.
func (e *AbsentError) Unwrap() error { return ErrAbsent }

// Error implements the error interface.
func (e *UnreadableError) Error() string {
	return fmt.Sprintf("metadata artifact unreadable: %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *UnreadableError) Unwrap() error { return e.Cause }

// Read loads the artifact named name from dir. It returns an AbsentError
// when the file does not exist and an UnreadableError when it exists but is
// not valid JSON; the two are deliberately distinguishable via errors.Is
// and errors.As.
func Read(dir, name string) (*Record, error) {
	path := filepath.Join(dir, name)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &AbsentError{Path: path}
		}
		return nil, &UnreadableError{Path: path, Cause: err}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &UnreadableError{Path: path, Cause: err}
	}

	return &Record{Raw: raw, Fields: fields}, nil
}

// Name returns the declared package name, or "".
func (r *Record) Name() string {
	return r.stringField("name")
}

// Version returns the declared version, or "". Numeric versions that some
// scripts pass (version=1.0) are rendered in their JSON form.
func (r *Record) Version() string {
	switch v := r.Fields["version"].(type) {
	case string:
		return v
	case float64:
		return trimFloat(v)
	default:
		return ""
	}
}

// Requires returns the declared install_requires entries, in declaration
// order, skipping anything that is not a string.
func (r *Record) Requires() []string {
	return r.stringListField("install_requires")
}

// Provides returns the modules this package claims to provide: packages,
// py_modules, and ext_modules concatenated in that order.
func (r *Record) Provides() []string {
	out := r.stringListField("packages")
	out = append(out, r.stringListField("py_modules")...)
	return append(out, r.stringListField("ext_modules")...)
}

func (r *Record) stringField(key string) string {
	if s, ok := r.Fields[key].(string); ok {
		return s
	}
	return ""
}

func (r *Record) stringListField(key string) []string {
	list, ok := r.Fields[key].([]any)
	if !ok {
		// packages=['single'] is sometimes passed as a bare string
		if s, ok := r.Fields[key].(string); ok {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func trimFloat(v float64) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
