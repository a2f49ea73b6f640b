package terrain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zarigata/erathia-terrain/internal/compute"
	"github.com/zarigata/erathia-terrain/internal/profiling"
)

// ErrFieldMissing means vegetation was requested for a region whose terrain
// field is not generated yet. The result is empty and never cached, so a
// later request after the field arrives generates normally.
var ErrFieldMissing = errors.New("terrain: region field not generated")

// VegetationParams tunes one placement dispatch. Zero values select the
// defaults.
type VegetationParams struct {
	Density        float32 // grid occupancy probability, 0..1
	Spacing        float32 // grid step in voxels
	NoiseFrequency float32
	MaxSlope       float32 // minimum accepted surface normal Y
	HeightMin      float32
	HeightMax      float32
}

func (p *VegetationParams) applyDefaults() {
	if p.Density <= 0 {
		p.Density = 0.5
	}
	if p.Spacing <= 0 {
		p.Spacing = 2
	}
	if p.NoiseFrequency <= 0 {
		p.NoiseFrequency = 0.05
	}
	if p.MaxSlope <= 0 {
		p.MaxSlope = 0.7
	}
	if p.HeightMax <= p.HeightMin {
		p.HeightMin = -1e9
		p.HeightMax = 1e9
	}
}

// Vegetation scatters instance placements over generated terrain regions.
// It shares the terrain generator's device, cache, and readback worker;
// results are cached under the vegetation's content type alongside field
// entries.
type Vegetation struct {
	gen     *Generator
	tracker *inflightTracker
	flight  singleflight.Group
}

// NewVegetation builds a vegetation pipeline over the terrain generator.
func NewVegetation(gen *Generator) *Vegetation {
	return &Vegetation{gen: gen, tracker: newInflightTracker()}
}

// GeneratePlacements starts placement generation for one (region, type) if
// it is not cached or in flight. typ must be nonzero; ContentField is
// reserved for terrain. hostCopy additionally schedules decoding of the
// records for CPU-side queries once the kernel finishes.
//
// Returns ErrFieldMissing when the region's terrain field does not exist
// yet; nothing is cached in that case.
func (v *Vegetation) GeneratePlacements(coord RegionCoord, typ ContentType, params VegetationParams, hostCopy bool) error {
	if !v.gen.backend.Enabled() {
		return compute.ErrDisabled
	}
	if typ == ContentField {
		return fmt.Errorf("terrain: content type %d is reserved for fields", typ)
	}
	params.applyDefaults()

	key := CacheKey{Region: coord, Type: typ}
	if v.gen.cache.contains(key) || v.tracker.contains(key) {
		return nil
	}

	field, ok := v.gen.fieldEntry(coord)
	if !ok || !field.gpuReady {
		return ErrFieldMissing
	}

	// Concurrent requests for the same key collapse into one dispatch.
	_, err, _ := v.flight.Do(key.String(), func() (any, error) {
		return nil, v.dispatch(key, field.resource, params, hostCopy)
	})
	return err
}

func (v *Vegetation) dispatch(key CacheKey, field *compute.Handle, params VegetationParams, hostCopy bool) error {
	if v.gen.cache.contains(key) || v.tracker.contains(key) {
		return nil
	}

	biome, err := v.gen.biomeHandle()
	if err != nil {
		return err
	}

	// Output starts zeroed, so the atomic count begins at zero.
	out, err := v.gen.backend.CreateBuffer(fmt.Sprintf("veg-%s", key), placementBufferSize())
	if err != nil {
		return err
	}

	gridSteps := uint32((float32(RegionSize) + params.Spacing - 1) / params.Spacing)
	if gridSteps == 0 {
		gridSteps = 1
	}

	origin := key.Region.Origin()
	seed := uint32(v.gen.seed) ^ uint32(key.Region.X*73856093) ^ uint32(key.Region.Y*19349663) ^ uint32(key.Region.Z*83492791)

	raw := make([]byte, 64)
	putF32(raw[0:], origin.X())
	putF32(raw[4:], origin.Y())
	putF32(raw[8:], origin.Z())
	putF32(raw[12:], params.Spacing)
	binary.LittleEndian.PutUint32(raw[16:], RegionSize)
	binary.LittleEndian.PutUint32(raw[20:], gridSteps)
	binary.LittleEndian.PutUint32(raw[24:], seed)
	binary.LittleEndian.PutUint32(raw[28:], uint32(key.Type))
	putF32(raw[32:], params.Density)
	putF32(raw[36:], params.NoiseFrequency)
	putF32(raw[40:], params.MaxSlope)
	putF32(raw[44:], params.HeightMin)
	putF32(raw[48:], params.HeightMax)

	wg := (gridSteps + 7) / 8
	fence, err := v.gen.backend.Dispatch(kernelVegetation, []*compute.Handle{out, field, biome}, raw, wg, 1, wg)
	if err != nil {
		out.Release()
		return fmt.Errorf("dispatch vegetation %s: %w", key, err)
	}

	v.tracker.add(&inflight{
		key:          key,
		resource:     out,
		fence:        fence,
		dispatchedAt: time.Now(),
		needsHost:    hostCopy,
	})
	v.gen.tel.countDispatch()
	return nil
}

// Process harvests finished placement dispatches into the cache. Returns
// the number of completions this call. Call alongside Generator.Process.
func (v *Vegetation) Process() int {
	if !v.gen.backend.Enabled() {
		return 0
	}
	defer profiling.Track("vegetation.Process")()
	completed := 0
	for _, job := range v.tracker.snapshot() {
		if !v.gen.backend.PollFence(job.fence) {
			continue
		}
		v.tracker.remove(job.key)
		completed++

		elapsed := time.Since(job.dispatchedAt)
		v.gen.tel.Observe(fmt.Sprintf("vegetation.%d.complete", int(job.key.Type)), elapsed)
		v.gen.tel.countCompletion()

		v.gen.cache.put(cacheEntry{
			key:      job.key,
			resource: job.resource,
			gpuReady: true,
		})

		if job.needsHost {
			v.queuePlacementReadback(job)
		}
	}
	return completed
}

func (v *Vegetation) queuePlacementReadback(job *inflight) {
	key := job.key
	ok := v.gen.reader.Submit(transferJob{
		key:         key,
		primary:     job.resource,
		primarySize: placementBufferSize(),
		apply: func(primary, _ []byte) {
			records := decodePlacements(primary)
			v.gen.cache.update(key, func(e *cacheEntry) {
				e.decoded = records
				e.hostReady = true
			})
		},
	})
	if !ok {
		log.Printf("terrain: readback queue full, placements for %s stay GPU-only", key)
	}
}

// Ready reports whether the (region, type) placements are bindable on the
// GPU, without touching cache recency.
func (v *Vegetation) Ready(coord RegionCoord, typ ContentType) bool {
	entry, ok := v.gen.cache.peek(CacheKey{Region: coord, Type: typ})
	return ok && entry.gpuReady
}

// Placements returns the decoded records for a host-copied result. ok is
// false for GPU-only entries and unfinished transfers.
func (v *Vegetation) Placements(coord RegionCoord, typ ContentType) ([]PlacementRecord, bool) {
	entry, found := v.gen.cache.get(CacheKey{Region: coord, Type: typ})
	if !found || !entry.hostReady {
		return nil, false
	}
	records, ok := entry.decoded.([]PlacementRecord)
	return records, ok
}

// PlacementBuffer returns the raw GPU placement buffer (count header plus
// records) and marks the entry recently used.
func (v *Vegetation) PlacementBuffer(coord RegionCoord, typ ContentType) (*compute.Handle, bool) {
	entry, found := v.gen.cache.get(CacheKey{Region: coord, Type: typ})
	if !found || !entry.gpuReady {
		return nil, false
	}
	return entry.resource, true
}

// PlacementCount reads the instance count from the buffer header. For
// host-copied entries the decoded records answer without touching the
// device; otherwise this blocks on a 4-byte transfer.
func (v *Vegetation) PlacementCount(coord RegionCoord, typ ContentType) (int, error) {
	entry, found := v.gen.cache.get(CacheKey{Region: coord, Type: typ})
	if !found || !entry.gpuReady {
		return 0, fmt.Errorf("terrain: placements %s/%d not generated", coord, int(typ))
	}
	if records, ok := entry.decoded.([]PlacementRecord); ok {
		return len(records), nil
	}
	raw, err := v.gen.backend.ReadBuffer(entry.resource, 0, placementHeader)
	if err != nil {
		return 0, err
	}
	n := int(binary.LittleEndian.Uint32(raw))
	if n > MaxPlacements {
		n = MaxPlacements
	}
	return n, nil
}

// TransformBuffer returns a GPU buffer of 3x4 row-major instance transforms
// for the placements, expanding it on first use. The buffer is cached on the
// entry, so repeated calls bind the same resource. Returns the buffer and
// the instance count.
func (v *Vegetation) TransformBuffer(coord RegionCoord, typ ContentType) (*compute.Handle, int, error) {
	key := CacheKey{Region: coord, Type: typ}
	entry, found := v.gen.cache.get(key)
	if !found || !entry.gpuReady {
		return nil, 0, fmt.Errorf("terrain: placements %s not generated", key)
	}

	count, err := v.PlacementCount(coord, typ)
	if err != nil {
		return nil, 0, err
	}
	if entry.aux != nil && entry.aux.Valid() {
		return entry.aux, count, nil
	}
	if count == 0 {
		return nil, 0, nil
	}

	transforms, err := v.expandTransforms(key, entry, count)
	if err != nil {
		return nil, 0, err
	}
	v.gen.cache.update(key, func(e *cacheEntry) {
		if e.aux == nil {
			e.aux = transforms
		}
	})
	return transforms, count, nil
}

// expandTransforms runs the expansion kernel, or falls back to the host
// when decoded records exist and the kernel cannot run.
func (v *Vegetation) expandTransforms(key CacheKey, entry cacheEntry, count int) (*compute.Handle, error) {
	out, err := v.gen.backend.CreateBuffer(fmt.Sprintf("veg-xform-%s", key), count*transformFloats*4)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 16)
	binary.LittleEndian.PutUint32(raw, uint32(count))

	// No fence wait: queue submission order guarantees the expansion runs
	// before any later bind of the output buffer.
	wg := uint32((count + 63) / 64)
	start := time.Now()
	_, err = v.gen.backend.Dispatch(kernelTransform, []*compute.Handle{out, entry.resource}, raw, wg, 1, 1)
	if err != nil {
		if records, ok := entry.decoded.([]PlacementRecord); ok {
			out.Release()
			data := floatsToBytes(transformsFromRecords(records))
			return v.gen.backend.CreateBufferInit(fmt.Sprintf("veg-xform-%s", key), data)
		}
		out.Release()
		return nil, fmt.Errorf("expand transforms %s: %w", key, err)
	}
	v.gen.tel.Observe("vegetation.transform", time.Since(start))
	return out, nil
}

// Invalidate drops one cached (region, type) result, freeing its buffers.
func (v *Vegetation) Invalidate(coord RegionCoord, typ ContentType) bool {
	return v.gen.cache.remove(CacheKey{Region: coord, Type: typ})
}

// InflightCount returns placement dispatches awaiting completion.
func (v *Vegetation) InflightCount() int { return v.tracker.size() }

// Close abandons in-flight placement work. Cached entries remain owned by
// the shared cache and die with the generator.
func (v *Vegetation) Close() {
	v.tracker.drain()
}
