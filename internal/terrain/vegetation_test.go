package terrain

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/zarigata/erathia-terrain/internal/compute"
)

const contentTrees ContentType = 1

// makeFieldReady drives the terrain pipeline until coord's field is cached.
func makeFieldReady(t *testing.T, b *fakeBackend, g *Generator, coord RegionCoord) {
	t.Helper()
	if !g.EnqueueRegion(coord, 1) {
		t.Fatal("field enqueue rejected")
	}
	g.Process(time.Hour)
	b.completeAll()
	g.Process(time.Hour)
	if !g.HasRegion(coord) {
		t.Fatal("field not ready")
	}
}

// lastDispatchOf returns the most recent dispatch of the kernel, or -1.
func lastDispatchOf(b *fakeBackend, kernel string) int {
	for i := b.dispatchCount() - 1; i >= 0; i-- {
		if b.dispatchAt(i).kernel == kernel {
			return i
		}
	}
	return -1
}

func TestVegetationRequiresField(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	coord := RegionCoord{X: 3}
	err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false)
	if !errors.Is(err, ErrFieldMissing) {
		t.Fatalf("err = %v, want ErrFieldMissing", err)
	}
	if v.Ready(coord, contentTrees) {
		t.Error("missing-field request must not cache a result")
	}
	if g.CacheSize() != 0 {
		t.Error("missing-field request must not create cache entries")
	}

	// Once the field exists the same request generates normally.
	makeFieldReady(t, b, g, coord)
	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false); err != nil {
		t.Fatalf("retry after field ready: %v", err)
	}
	if v.InflightCount() != 1 {
		t.Error("placement dispatch not in flight")
	}
}

func TestVegetationPipelineWithHostCopy(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)
	defer v.Close()

	coord := RegionCoord{X: -1, Z: 2}
	makeFieldReady(t, b, g, coord)

	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{Spacing: 2}, true); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if v.Ready(coord, contentTrees) {
		t.Error("placements reported ready before completion")
	}

	// Simulate the kernel writing two records before the fence signals.
	want := []PlacementRecord{
		{
			Position:     mgl32.Vec3{1, 60, 2},
			Normal:       mgl32.Vec3{0, 1, 0},
			VariantIndex: 2,
			InstanceSeed: 77,
			Scale:        1.1,
			Yaw:          0.5,
		},
		{
			Position:     mgl32.Vec3{8, 55, 9},
			Normal:       mgl32.Vec3{0, 0.8, 0.6},
			VariantIndex: 0,
			InstanceSeed: 13,
			Scale:        0.9,
			Yaw:          3.1,
		},
	}
	di := lastDispatchOf(b, kernelVegetation)
	if di < 0 {
		t.Fatal("vegetation kernel never dispatched")
	}
	out := b.dispatchAt(di).buffers[0].Native().(*fakeBuffer)
	out.write(0, encodePlacements(want))
	b.completeAll()

	if v.Process() != 1 {
		t.Fatal("expected one completion")
	}
	if !v.Ready(coord, contentTrees) {
		t.Fatal("placements not ready after completion")
	}

	waitFor(t, func() bool {
		_, ok := v.Placements(coord, contentTrees)
		return ok
	})
	got, _ := v.Placements(coord, contentTrees)
	if len(got) != len(want) {
		t.Fatalf("decoded %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	n, err := v.PlacementCount(coord, contentTrees)
	if err != nil || n != 2 {
		t.Errorf("PlacementCount = %d, %v, want 2", n, err)
	}
}

func TestVegetationGPUOnlyCountReadsHeader(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	coord := RegionCoord{X: 5}
	makeFieldReady(t, b, g, coord)
	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false); err != nil {
		t.Fatal(err)
	}

	di := lastDispatchOf(b, kernelVegetation)
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], 9)
	b.dispatchAt(di).buffers[0].Native().(*fakeBuffer).write(0, header[:])
	b.completeAll()
	v.Process()

	reads := b.readCount()
	n, err := v.PlacementCount(coord, contentTrees)
	if err != nil || n != 9 {
		t.Fatalf("PlacementCount = %d, %v, want 9", n, err)
	}
	if b.readCount() != reads+1 {
		t.Error("gpu-only count should cost one device read")
	}
	if _, ok := v.Placements(coord, contentTrees); ok {
		t.Error("gpu-only entry should have no decoded records")
	}
}

func TestVegetationTransformExpansion(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	coord := RegionCoord{X: 2}
	makeFieldReady(t, b, g, coord)
	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, true); err != nil {
		t.Fatal(err)
	}

	records := []PlacementRecord{
		{Position: mgl32.Vec3{4, 40, 4}, Normal: mgl32.Vec3{0, 1, 0}, Scale: 2, Yaw: 0},
	}
	di := lastDispatchOf(b, kernelVegetation)
	b.dispatchAt(di).buffers[0].Native().(*fakeBuffer).write(0, encodePlacements(records))
	b.completeAll()
	v.Process()
	waitFor(t, func() bool {
		_, ok := v.Placements(coord, contentTrees)
		return ok
	})

	handle, n, err := v.TransformBuffer(coord, contentTrees)
	if err != nil {
		t.Fatalf("TransformBuffer: %v", err)
	}
	if n != 1 {
		t.Errorf("instance count = %d, want 1", n)
	}
	if handle.Size() != transformFloats*4 {
		t.Errorf("transform buffer size = %d, want %d", handle.Size(), transformFloats*4)
	}
	if ti := lastDispatchOf(b, kernelTransform); ti < 0 {
		t.Error("transform kernel never dispatched")
	}

	// Second call binds the cached buffer without another dispatch.
	count := b.dispatchCount()
	again, _, err := v.TransformBuffer(coord, contentTrees)
	if err != nil {
		t.Fatal(err)
	}
	if again != handle {
		t.Error("repeated TransformBuffer returned a different buffer")
	}
	if b.dispatchCount() != count {
		t.Error("repeated TransformBuffer re-dispatched the kernel")
	}
}

func TestTransformHostFallbackMatchesKernelLayout(t *testing.T) {
	records := []PlacementRecord{
		{Position: mgl32.Vec3{10, 20, 30}, Scale: 2, Yaw: float32(math.Pi / 2)},
	}
	got := transformsFromRecords(records)
	if len(got) != transformFloats {
		t.Fatalf("transform has %d floats, want %d", len(got), transformFloats)
	}

	// Yaw pi/2 at scale 2: row-major 3x4 with translation in the last
	// column.
	want := []float32{0, 0, 2, 10, 0, 2, 0, 20, -2, 0, 0, 30}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("transform[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestVegetationRejectsReservedType(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	if err := v.GeneratePlacements(RegionCoord{}, ContentField, VegetationParams{}, false); err == nil {
		t.Error("content type 0 must be rejected")
	}
}

func TestVegetationDeduplicatesRequests(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	coord := RegionCoord{X: 1}
	makeFieldReady(t, b, g, coord)

	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false); err != nil {
		t.Fatal(err)
	}
	count := b.dispatchCount()
	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false); err != nil {
		t.Fatal(err)
	}
	if b.dispatchCount() != count {
		t.Error("in-flight request dispatched again")
	}

	b.completeAll()
	v.Process()
	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false); err != nil {
		t.Fatal(err)
	}
	if b.dispatchCount() != count {
		t.Error("cached request dispatched again")
	}
}

func TestVegetationDisabledBackend(t *testing.T) {
	b := newFakeBackend()
	b.enabled = false
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	err := v.GeneratePlacements(RegionCoord{}, contentTrees, VegetationParams{}, false)
	if !errors.Is(err, compute.ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
	if v.Process() != 0 {
		t.Error("disabled vegetation completed work")
	}
}

func TestVegetationInvalidate(t *testing.T) {
	b := newFakeBackend()
	g := newTestGenerator(t, b, Options{})
	v := NewVegetation(g)

	coord := RegionCoord{X: 6}
	makeFieldReady(t, b, g, coord)
	if err := v.GeneratePlacements(coord, contentTrees, VegetationParams{}, false); err != nil {
		t.Fatal(err)
	}
	b.completeAll()
	v.Process()

	if !v.Invalidate(coord, contentTrees) {
		t.Fatal("invalidate missed the cached entry")
	}
	if v.Ready(coord, contentTrees) {
		t.Error("entry still ready after invalidate")
	}
	// The terrain field is untouched.
	if !g.HasRegion(coord) {
		t.Error("invalidate dropped the field entry too")
	}
}
