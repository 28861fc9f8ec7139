// SPDX-License-Identifier: MPL-2.0

// Package rewrite transforms an untrusted Python build script into an
// instrumented variant that records the parameters of its setup() call
// instead of performing a real build.
//
// A script is modeled as three parts: the preamble (shebang, coding cookie,
// module docstring, and `from __future__ import` statements, which Python
// requires to stay syntactically first), the injected instrumentation block,
// and the unmodified remainder of the original body. Splitting is a
// conservative line scan, not a full parse: when the scan cannot make sense
// of the input it degrades to treating the whole file as body, and the
// downstream interpreter surfaces whatever is wrong with the script.
package rewrite
