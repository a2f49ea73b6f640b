package compute

import "sync"

// Fence tracks asynchronous completion of one submitted dispatch. Completion
// is observed by polling; a fence never blocks the caller.
type Fence struct {
	mu       sync.Mutex
	signaled bool
	check    func() bool
	cleanup  func()
}

// NewFence builds a fence around a non-blocking completion check. A nil check
// means the work is already complete. The cleanup hook runs once, when the
// fence first observes completion.
func NewFence(check func() bool, cleanup func()) *Fence {
	return &Fence{check: check, cleanup: cleanup}
}

// Poll reports whether the associated device work has finished. Once a fence
// signals it stays signaled.
func (f *Fence) Poll() bool {
	if f == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return true
	}
	if f.check == nil || f.check() {
		f.signaled = true
		if f.cleanup != nil {
			f.cleanup()
			f.cleanup = nil
		}
	}
	return f.signaled
}
