package profiling

import (
	"strings"
	"testing"
	"time"
)

func TestTrackAccumulates(t *testing.T) {
	ResetFrame()

	stop := Track("terrain.Process")
	time.Sleep(2 * time.Millisecond)
	stop()
	Track("terrain.Process")()

	if got := Calls("terrain.Process"); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	ss := Snapshot()
	if ss["terrain.Process"] < 2*time.Millisecond {
		t.Errorf("total = %v, want at least 2ms", ss["terrain.Process"])
	}

	ResetFrame()
	if len(Snapshot()) != 0 {
		t.Error("snapshot not empty after reset")
	}
	if Calls("terrain.Process") != 0 {
		t.Error("calls survive reset")
	}
}

func TestSumWithPrefix(t *testing.T) {
	ResetFrame()
	defer ResetFrame()

	mu.Lock()
	frameTotals["vegetation.trees"] = &entry{total: 3 * time.Millisecond, calls: 1}
	frameTotals["vegetation.grass"] = &entry{total: 2 * time.Millisecond, calls: 1}
	frameTotals["terrain.Process"] = &entry{total: 10 * time.Millisecond, calls: 1}
	mu.Unlock()

	if got := SumWithPrefix("vegetation."); got != 5*time.Millisecond {
		t.Errorf("prefix sum = %v, want 5ms", got)
	}
}

func TestTopNFormatting(t *testing.T) {
	ResetFrame()
	defer ResetFrame()

	mu.Lock()
	frameTotals["a"] = &entry{total: 4200 * time.Microsecond, calls: 1}
	frameTotals["b"] = &entry{total: 1 * time.Millisecond, calls: 1}
	mu.Unlock()

	out := TopN(1)
	if !strings.HasPrefix(out, "a:4.2ms") {
		t.Errorf("TopN = %q", out)
	}
	if strings.Contains(out, "b:") {
		t.Errorf("TopN(1) included a second entry: %q", out)
	}
}
