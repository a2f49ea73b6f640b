package terrain

import (
	"container/heap"
	"sync"
	"time"
)

// lessByPriority is the queue ordering: lower priority value means closer to
// the viewer and is served sooner. Named so the sign convention lives in one
// place.
func lessByPriority(a, b *RegionRequest) bool {
	return a.Priority < b.Priority
}

// requestHeap is a min-heap of pending requests ordered by lessByPriority.
type requestHeap []*RegionRequest

func (h requestHeap) Len() int            { return len(h) }
func (h requestHeap) Less(i, j int) bool  { return lessByPriority(h[i], h[j]) }
func (h requestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)         { *h = append(*h, x.(*RegionRequest)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return req
}

// Scheduler admits pending generation requests against a per-frame time
// budget. Enqueue deduplicates against requests still in the queue; the
// dispatch callback is responsible for rejecting work that is already
// in flight or cached.
type Scheduler struct {
	mu      sync.Mutex
	queue   requestHeap
	pending map[RegionCoord]struct{}

	// Measured dispatch cost feeds budget accounting once available.
	totalCost time.Duration
	costCount int

	disabled bool
}

// NewScheduler returns an empty scheduler. A disabled scheduler (compute
// subsystem failed to initialize) turns both operations into no-ops.
func NewScheduler(disabled bool) *Scheduler {
	return &Scheduler{
		pending:  make(map[RegionCoord]struct{}),
		disabled: disabled,
	}
}

// Enqueue queues a request unless an equivalent one is already pending.
// Returns whether the request was accepted.
func (s *Scheduler) Enqueue(req RegionRequest) bool {
	if s.disabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[req.Coord]; ok {
		return false
	}
	s.pending[req.Coord] = struct{}{}
	r := req
	heap.Push(&s.queue, &r)
	return true
}

// Pending reports whether a request for the coordinate is still queued.
func (s *Scheduler) Pending(coord RegionCoord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[coord]
	return ok
}

// QueueLen returns the number of queued requests.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Process pops requests in ascending priority order and hands each to
// dispatch, accumulating spent time against budget. The accumulator is local
// to this call, so it resets once per frame by construction. dispatch
// returns the measured cost and whether work was actually submitted; skipped
// requests (already in flight or cached) cost nothing. Returns the number of
// dispatches performed.
func (s *Scheduler) Process(budget time.Duration, dispatch func(RegionRequest) (time.Duration, bool)) int {
	if s.disabled {
		return 0
	}

	var spent time.Duration
	dispatched := 0

	for spent < budget {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			break
		}
		req := heap.Pop(&s.queue).(*RegionRequest)
		delete(s.pending, req.Coord)
		s.mu.Unlock()

		// Device submission happens outside the scheduler lock.
		cost, ok := dispatch(*req)
		if !ok {
			continue
		}
		dispatched++
		if cost <= 0 {
			cost = s.estimatedCost()
		}
		spent += cost
	}
	return dispatched
}

// ObserveCost records a measured dispatch-to-completion duration for budget
// estimation.
func (s *Scheduler) ObserveCost(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.totalCost += d
	s.costCount++
	s.mu.Unlock()
}

func (s *Scheduler) estimatedCost() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.costCount == 0 {
		return defaultDispatchCost
	}
	return s.totalCost / time.Duration(s.costCount)
}
