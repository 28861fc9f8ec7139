// SPDX-License-Identifier: MPL-2.0

// Package pyproject reads statically declared project metadata from
// pyproject.toml. When a package declares its name, version, and
// dependencies there, metadata extraction can skip running any build script
// at all; fields listed under "dynamic" are computed at build time and force
// the sandboxed path.
package pyproject

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the standard metadata file name.
const FileName = "pyproject.toml"

// ErrNotFound is returned when the source tree has no pyproject.toml.
var ErrNotFound = errors.New("pyproject.toml not found")

type (
	// Metadata is the static subset of the [project] table the extractor
	// cares about.
	Metadata struct {
		// Name is the declared project name.
		Name string `toml:"name"`
		// Version is the declared version; empty when listed in Dynamic.
		Version string `toml:"version"`
		// RequiresPython is the interpreter constraint, e.g. ">=3.8".
		RequiresPython string `toml:"requires-python"`
		// Dependencies are the declared install requirements.
		Dependencies []string `toml:"dependencies"`
		// Dynamic lists fields deferred to the build backend.
		Dynamic []string `toml:"dynamic"`
	}

	document struct {
		Project *Metadata `toml:"project"`
	}
)

// Load reads dir/pyproject.toml. A missing file returns ErrNotFound; a file
// without a [project] table returns an empty Metadata, which IsStatic
// reports as unusable.
func Load(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("parse %s at %d:%d: %s", FileName, row, col, decodeErr.Error())
		}
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}

	if doc.Project == nil {
		return &Metadata{}, nil
	}
	return doc.Project, nil
}

// IsDynamic reports whether field is deferred to the build backend.
func (m *Metadata) IsDynamic(field string) bool {
	return slices.Contains(m.Dynamic, field)
}

// IsStatic reports whether the metadata is complete enough to stand in for
// running the build script: a declared name and version, neither dynamic.
func (m *Metadata) IsStatic() bool {
	return m.Name != "" && m.Version != "" &&
		!m.IsDynamic("name") && !m.IsDynamic("version") &&
		!m.IsDynamic("dependencies")
}
