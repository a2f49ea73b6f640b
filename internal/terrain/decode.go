package terrain

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/s2"
)

// decodePlacements parses a raw placement buffer: a uint32 count followed by
// MaxPlacements fixed-size records. The count is clamped to the capacity and
// records past the end of the data are dropped, mirroring the kernel's
// bounded-output contract.
func decodePlacements(data []byte) []PlacementRecord {
	if len(data) < placementHeader {
		return nil
	}
	count := binary.LittleEndian.Uint32(data)
	if count > MaxPlacements {
		count = MaxPlacements
	}

	out := make([]PlacementRecord, 0, count)
	offset := placementHeader
	for i := uint32(0); i < count; i++ {
		if offset+placementStride > len(data) {
			break
		}
		rec := data[offset : offset+placementStride]
		out = append(out, PlacementRecord{
			Position: mgl32.Vec3{
				f32(rec[0:]), f32(rec[4:]), f32(rec[8:]),
			},
			// rec[12:16] pads position to 16 bytes.
			Normal: mgl32.Vec3{
				f32(rec[16:]), f32(rec[20:]), f32(rec[24:]),
			},
			// rec[28:32] pads normal.
			VariantIndex: binary.LittleEndian.Uint32(rec[32:]),
			InstanceSeed: binary.LittleEndian.Uint32(rec[36:]),
			Scale:        f32(rec[40:]),
			Yaw:          f32(rec[44:]),
		})
		offset += placementStride
	}
	return out
}

// encodePlacements is the inverse of decodePlacements, used to seed buffers
// on the host fallback path and by tests.
func encodePlacements(records []PlacementRecord) []byte {
	if len(records) > MaxPlacements {
		records = records[:MaxPlacements]
	}
	data := make([]byte, placementHeader+len(records)*placementStride)
	binary.LittleEndian.PutUint32(data, uint32(len(records)))
	offset := placementHeader
	for _, r := range records {
		rec := data[offset : offset+placementStride]
		putF32(rec[0:], r.Position.X())
		putF32(rec[4:], r.Position.Y())
		putF32(rec[8:], r.Position.Z())
		putF32(rec[16:], r.Normal.X())
		putF32(rec[20:], r.Normal.Y())
		putF32(rec[24:], r.Normal.Z())
		binary.LittleEndian.PutUint32(rec[32:], r.VariantIndex)
		binary.LittleEndian.PutUint32(rec[36:], r.InstanceSeed)
		putF32(rec[40:], r.Scale)
		putF32(rec[44:], r.Yaw)
		offset += placementStride
	}
	return data
}

// transformsFromRecords expands placements into 3x4 row-major affine
// transforms (12 floats each): yaw rotation and uniform scale in the basis,
// position in the last column. This is the host fallback for the transform
// expansion kernel.
func transformsFromRecords(records []PlacementRecord) []float32 {
	out := make([]float32, 0, len(records)*transformFloats)
	for _, r := range records {
		basis := mgl32.Rotate3DY(r.Yaw).Mul(r.Scale)
		for row := 0; row < 3; row++ {
			v := basis.Row(row)
			out = append(out, v.X(), v.Y(), v.Z(), r.Position[row])
		}
	}
	return out
}

// floatsToBytes packs float32s little-endian for buffer upload.
func floatsToBytes(vals []float32) []byte {
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		putF32(data[i*4:], v)
	}
	return data
}

// FieldData is the host copy of one region's volumetric field: per-voxel
// signed distance plus material index. Both channels are stored s2-compressed
// since a streaming world holds many of these at 128 KiB raw each.
type FieldData struct {
	Size     int
	sdf      []byte // s2-compressed little-endian float32s
	material []byte // s2-compressed little-endian uint32s
}

// FieldArrays is a decoded field ready for bulk insertion into a voxel
// engine buffer.
type FieldArrays struct {
	Size      int
	SDF       []float32
	Materials []uint32
}

// At returns the linear index of voxel (x, y, z).
func (f *FieldArrays) At(x, y, z int) int {
	return (z*f.Size+y)*f.Size + x
}

// newFieldData compresses raw readback bytes into the cache representation.
// Both inputs are voxel-count*4 bytes.
func newFieldData(size int, sdfRaw, matRaw []byte) (*FieldData, error) {
	want := size * size * size * 4
	if len(sdfRaw) < want || len(matRaw) < want {
		return nil, fmt.Errorf("field readback short: sdf %d, material %d, want %d", len(sdfRaw), len(matRaw), want)
	}
	return &FieldData{
		Size:     size,
		sdf:      s2.Encode(nil, sdfRaw[:want]),
		material: s2.Encode(nil, matRaw[:want]),
	}, nil
}

// Decode decompresses the field into typed arrays.
func (f *FieldData) Decode() (*FieldArrays, error) {
	sdfRaw, err := s2.Decode(nil, f.sdf)
	if err != nil {
		return nil, fmt.Errorf("decode sdf channel: %w", err)
	}
	matRaw, err := s2.Decode(nil, f.material)
	if err != nil {
		return nil, fmt.Errorf("decode material channel: %w", err)
	}

	n := f.Size * f.Size * f.Size
	out := &FieldArrays{
		Size:      f.Size,
		SDF:       make([]float32, n),
		Materials: make([]uint32, n),
	}
	for i := 0; i < n; i++ {
		out.SDF[i] = f32(sdfRaw[i*4:])
		out.Materials[i] = binary.LittleEndian.Uint32(matRaw[i*4:])
	}
	return out, nil
}

// CompressedBytes returns the stored size of both channels, for telemetry.
func (f *FieldData) CompressedBytes() int {
	return len(f.sdf) + len(f.material)
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
