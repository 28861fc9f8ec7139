// SPDX-License-Identifier: MPL-2.0

package supervisor

import "sync"

// tailBuffer is an io.Writer retaining only the last max bytes written. It
// lets an attempt keep a useful stderr excerpt without buffering a build
// script's unbounded output.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	clipped bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

// Write implements io.Writer. It never fails.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		if len(p) > t.max || len(t.buf) > 0 {
			t.clipped = true
		}
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	if overflow := len(t.buf) + len(p) - t.max; overflow > 0 {
		t.buf = append(t.buf[:copy(t.buf, t.buf[overflow:])], p...)
		t.clipped = true
	} else {
		t.buf = append(t.buf, p...)
	}
	return len(p), nil
}

// String returns the retained tail, prefixed with an ellipsis marker when
// earlier output was discarded.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.clipped {
		return "[...] " + string(t.buf)
	}
	return string(t.buf)
}
