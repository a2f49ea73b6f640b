package terrain

import (
	"encoding/binary"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestDecodePlacementsRoundTrip(t *testing.T) {
	want := []PlacementRecord{
		{
			Position:     mgl32.Vec3{1.5, -2.25, 3},
			Normal:       mgl32.Vec3{0, 1, 0},
			VariantIndex: 3,
			InstanceSeed: 0xDEADBEEF,
			Scale:        1.25,
			Yaw:          4.5,
		},
		{
			Position:     mgl32.Vec3{-7, 0.5, 12},
			Normal:       mgl32.Vec3{0.6, 0.8, 0},
			VariantIndex: 1,
			InstanceSeed: 42,
			Scale:        0.75,
			Yaw:          0,
		},
	}

	got := decodePlacements(encodePlacements(want))
	if len(got) != len(want) {
		t.Fatalf("decoded %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodePlacementsClampsCount(t *testing.T) {
	// A corrupt or adversarial header must not drive allocation.
	data := make([]byte, placementHeader+placementStride)
	binary.LittleEndian.PutUint32(data, 1<<30)

	got := decodePlacements(data)
	if len(got) != 1 {
		t.Errorf("decoded %d records from truncated data, want 1", len(got))
	}
}

func TestDecodePlacementsTruncatedInput(t *testing.T) {
	if got := decodePlacements(nil); got != nil {
		t.Error("nil input should decode to nil")
	}
	if got := decodePlacements([]byte{1, 0}); got != nil {
		t.Error("sub-header input should decode to nil")
	}

	// Count claims two records but only one is present.
	data := make([]byte, placementHeader+placementStride)
	binary.LittleEndian.PutUint32(data, 2)
	if got := decodePlacements(data); len(got) != 1 {
		t.Errorf("decoded %d records, want the 1 actually present", len(got))
	}
}

func TestFieldDataCompressionRoundTrip(t *testing.T) {
	n := fieldVoxels()
	sdfRaw := make([]byte, n*4)
	matRaw := make([]byte, n*4)
	for i := 0; i < n; i++ {
		putF32(sdfRaw[i*4:], float32(i%64)-32)
		binary.LittleEndian.PutUint32(matRaw[i*4:], uint32(i%4))
	}

	field, err := newFieldData(RegionSize, sdfRaw, matRaw)
	if err != nil {
		t.Fatalf("newFieldData: %v", err)
	}
	if field.CompressedBytes() >= len(sdfRaw)+len(matRaw) {
		t.Error("repetitive field should compress smaller than raw")
	}

	arrays, err := field.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if arrays.SDF[100] != float32(100%64)-32 {
		t.Errorf("sdf[100] = %v", arrays.SDF[100])
	}
	if arrays.Materials[4095] != uint32(4095%4) {
		t.Errorf("materials[4095] = %v", arrays.Materials[4095])
	}

	// Index layout is x + y*size + z*size*size.
	if got := arrays.At(1, 2, 3); got != 3*RegionSize*RegionSize+2*RegionSize+1 {
		t.Errorf("At(1,2,3) = %d", got)
	}
}

func TestFieldDataRejectsShortInput(t *testing.T) {
	if _, err := newFieldData(RegionSize, make([]byte, 16), make([]byte, 16)); err == nil {
		t.Error("short readback should be rejected")
	}
}
