// Package terrain generates voxel terrain fields and vegetation placements
// on a GPU compute device for a streaming open world. Work is admitted under
// a per-frame time budget, observed by polling, and cached per
// (region, content type) with LRU eviction.
package terrain

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// RegionSize is the edge length, in voxels, of one generation region.
	RegionSize = 32

	// MaxPlacements bounds vegetation output per region; candidates beyond
	// the cap are silently dropped by the kernel.
	MaxPlacements = 4096

	// DefaultMaxCacheEntries bounds the number of live (region, type) cache
	// entries.
	DefaultMaxCacheEntries = 500

	// DefaultFrameBudget is the dispatch time the scheduler may spend per
	// frame before deferring remaining work.
	DefaultFrameBudget = 8 * time.Millisecond

	// defaultDispatchCost estimates a dispatch before any measurement exists.
	defaultDispatchCost = 2 * time.Millisecond

	// placementStride is the GPU-side size of one PlacementRecord: two
	// 16-byte-aligned vec3s plus four 4-byte scalars.
	placementStride = 48

	// placementHeader is the 4-byte count prefix of a placement buffer.
	placementHeader = 4

	// transformFloats is the size of one expanded affine transform: three
	// rows of four floats.
	transformFloats = 12
)

// RegionCoord identifies one fixed-size cube of world space in region units.
type RegionCoord struct {
	X, Y, Z int
}

// Origin returns the region's corner in voxel coordinates.
func (c RegionCoord) Origin() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(c.X * RegionSize),
		float32(c.Y * RegionSize),
		float32(c.Z * RegionSize),
	}
}

// Center returns the region's center in voxel coordinates.
func (c RegionCoord) Center() mgl32.Vec3 {
	half := float32(RegionSize) / 2
	return c.Origin().Add(mgl32.Vec3{half, half, half})
}

func (c RegionCoord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// ContentType names which generation pipeline a cached entry belongs to.
// ContentField is the terrain field; vegetation categories start at 1.
type ContentType int

// ContentField is the volumetric terrain field content type.
const ContentField ContentType = 0

// CacheKey is the unit of caching: one region, one content type.
type CacheKey struct {
	Region RegionCoord
	Type   ContentType
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%d", k.Region, int(k.Type))
}

// PlacementRecord is one vegetation instance produced by the placement
// kernel. The GPU layout is 48 bytes: position and normal padded to 16 bytes
// each, then four 4-byte scalars.
type PlacementRecord struct {
	Position     mgl32.Vec3
	Normal       mgl32.Vec3
	VariantIndex uint32
	InstanceSeed uint32
	Scale        float32
	Yaw          float32
}

// RegionRequest is one pending generation request. Priority is the viewer
// distance at enqueue time; lower values are served sooner.
type RegionRequest struct {
	Coord      RegionCoord
	LOD        int
	Priority   float32
	EnqueuedAt time.Time
}

// placementBufferSize is the byte size of a full placement output buffer.
func placementBufferSize() int {
	return placementHeader + MaxPlacements*placementStride
}

// fieldVoxels is the voxel count of one region's field.
func fieldVoxels() int {
	return RegionSize * RegionSize * RegionSize
}
