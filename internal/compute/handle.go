package compute

import (
	"fmt"
	"sync/atomic"
)

// Handle wraps a single device-resident buffer. Exactly one owner holds a
// Handle at a time; Release frees the underlying resource exactly once, no
// matter how many times it is called.
type Handle struct {
	label   string
	size    int
	native  any
	freed   atomic.Bool
	release func()
}

// NewHandle wraps a native device resource. The release hook is invoked at
// most once, on the first Release call.
func NewHandle(label string, size int, native any, release func()) *Handle {
	return &Handle{label: label, size: size, native: native, release: release}
}

// Label returns the debug label the resource was created with.
func (h *Handle) Label() string { return h.label }

// Size returns the resource size in bytes.
func (h *Handle) Size() int { return h.size }

// Valid reports whether the handle still owns a live resource.
func (h *Handle) Valid() bool {
	return h != nil && !h.freed.Load()
}

// Native exposes the backend resource object. Only the context that created
// the handle should interpret it.
func (h *Handle) Native() any { return h.native }

// Release frees the underlying resource. Safe to call more than once; only
// the first call has any effect.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.freed.CompareAndSwap(false, true) {
		if h.release != nil {
			h.release()
		}
		h.native = nil
	}
}

func (h *Handle) String() string {
	if h == nil {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%s, %d bytes)", h.label, h.size)
}
