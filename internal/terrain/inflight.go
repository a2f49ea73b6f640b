package terrain

import (
	"sync"
	"time"

	"github.com/zarigata/erathia-terrain/internal/compute"
)

// inflight tracks one dispatched generation whose fence has not signaled yet.
// The handles stay owned by the tracker until the work completes, at which
// point ownership moves to the cache or the readback worker.
type inflight struct {
	key          CacheKey
	lod          int
	resource     *compute.Handle
	aux          *compute.Handle
	fence        *compute.Fence
	dispatchedAt time.Time
	needsHost    bool
}

type inflightTracker struct {
	mu   sync.Mutex
	jobs map[CacheKey]*inflight
}

func newInflightTracker() *inflightTracker {
	return &inflightTracker{jobs: make(map[CacheKey]*inflight)}
}

func (t *inflightTracker) add(job *inflight) {
	t.mu.Lock()
	t.jobs[job.key] = job
	t.mu.Unlock()
}

func (t *inflightTracker) contains(key CacheKey) bool {
	t.mu.Lock()
	_, ok := t.jobs[key]
	t.mu.Unlock()
	return ok
}

func (t *inflightTracker) remove(key CacheKey) {
	t.mu.Lock()
	delete(t.jobs, key)
	t.mu.Unlock()
}

// snapshot returns the current jobs so callers can poll fences without
// holding the tracker lock across backend calls.
func (t *inflightTracker) snapshot() []*inflight {
	t.mu.Lock()
	out := make([]*inflight, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job)
	}
	t.mu.Unlock()
	return out
}

func (t *inflightTracker) size() int {
	t.mu.Lock()
	n := len(t.jobs)
	t.mu.Unlock()
	return n
}

// drain removes every job and releases its handles. Used on shutdown and
// cache clears.
func (t *inflightTracker) drain() {
	t.mu.Lock()
	jobs := t.jobs
	t.jobs = make(map[CacheKey]*inflight)
	t.mu.Unlock()
	for _, job := range jobs {
		job.resource.Release()
		job.aux.Release()
	}
}
