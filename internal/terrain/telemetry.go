package terrain

import (
	"sync"
	"time"
)

// OpStats aggregates timings for one operation category.
type OpStats struct {
	Count int
	Total time.Duration
	Last  time.Duration
}

// Average returns the mean duration, or zero with no observations.
func (s OpStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Telemetry collects per-category operation timings and frame counters for
// the generation pipeline.
type Telemetry struct {
	mu       sync.Mutex
	byCat    map[string]*OpStats

	dispatchedThisFrame int
	completedThisFrame  int
	totalGenerated      int
}

// NewTelemetry returns an empty collector.
func NewTelemetry() *Telemetry {
	return &Telemetry{byCat: make(map[string]*OpStats)}
}

// Observe records one operation duration under the given category.
func (t *Telemetry) Observe(category string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byCat[category]
	if !ok {
		s = &OpStats{}
		t.byCat[category] = s
	}
	s.Count++
	s.Total += d
	s.Last = d
}

// Stats returns the aggregate for one category.
func (t *Telemetry) Stats(category string) (OpStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byCat[category]
	if !ok {
		return OpStats{}, false
	}
	return *s, true
}

// Snapshot copies all per-category aggregates.
func (t *Telemetry) Snapshot() map[string]OpStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]OpStats, len(t.byCat))
	for k, v := range t.byCat {
		out[k] = *v
	}
	return out
}

// FrameStart resets the per-frame counters. Called once per Process.
func (t *Telemetry) FrameStart() {
	t.mu.Lock()
	t.dispatchedThisFrame = 0
	t.completedThisFrame = 0
	t.mu.Unlock()
}

func (t *Telemetry) countDispatch() {
	t.mu.Lock()
	t.dispatchedThisFrame++
	t.mu.Unlock()
}

func (t *Telemetry) countCompletion() {
	t.mu.Lock()
	t.completedThisFrame++
	t.totalGenerated++
	t.mu.Unlock()
}

// FrameCounters returns (dispatched this frame, completed this frame, total
// completed since start or last Reset).
func (t *Telemetry) FrameCounters() (dispatched, completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dispatchedThisFrame, t.completedThisFrame, t.totalGenerated
}

// Reset drops all aggregates and counters.
func (t *Telemetry) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCat = make(map[string]*OpStats)
	t.dispatchedThisFrame = 0
	t.completedThisFrame = 0
	t.totalGenerated = 0
}
