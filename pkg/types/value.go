package types

import "sync/atomic"

// Value is an opaque partitioning-key value. By-value types carry their
// payload directly (int64, float64); by-reference types carry a []byte
// payload that is deep-copied when a Bound takes ownership of it.
type Value interface{}

// AllocTracker counts live by-reference payload allocations. Bound copy and
// free operations report to it so that ownership symmetry is checkable: a
// copy followed by a free leaves the live count unchanged. A nil tracker
// disables counting; all methods are nil-safe.
type AllocTracker struct {
	live int64
}

// Live returns the number of outstanding by-reference payloads.
func (t *AllocTracker) Live() int64 {
	if t == nil {
		return 0
	}
	return atomic.LoadInt64(&t.live)
}

func (t *AllocTracker) alloc() {
	if t != nil {
		atomic.AddInt64(&t.live, 1)
	}
}

func (t *AllocTracker) release() {
	if t != nil {
		atomic.AddInt64(&t.live, -1)
	}
}

// copyValue deep-copies a by-reference payload. Only []byte payloads are
// reference types; everything else is shared as-is.
func copyValue(v Value, tracker *AllocTracker) Value {
	if b, ok := v.([]byte); ok {
		cp := make([]byte, len(b))
		copy(cp, b)
		tracker.alloc()
		return cp
	}
	return v
}
