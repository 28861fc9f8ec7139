// SPDX-License-Identifier: MPL-2.0

package pypi

import (
	"regexp"
	"strings"
)

var nameSeparatorRe = regexp.MustCompile(`[-_.]+`)

// CanonicalName normalizes a project name the way package indexes do:
// lowercase, with every run of hyphens, underscores, and dots collapsed to a
// single hyphen. "Flask_RESTful" and "flask.restful" both canonicalize to
// "flask-restful".
func CanonicalName(name string) string {
	return strings.ToLower(nameSeparatorRe.ReplaceAllString(name, "-"))
}

// DistName normalizes a project name for distribution file names, where the
// separator convention is an underscore ("my_project-1.0.tar.gz").
func DistName(name string) string {
	return strings.ReplaceAll(CanonicalName(name), "-", "_")
}
