package terrain

import (
	"encoding/binary"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"

	"github.com/zarigata/erathia-terrain/internal/compute"
	"github.com/zarigata/erathia-terrain/internal/profiling"
)

// Biome map geometry. The map covers the whole world once; kernels hardcode
// the same size and count.
const (
	biomeMapSize   = 2048
	biomeCount     = 17
	biomeCellScale = 2000.0
	biomeJitter    = 0.8
)

// Options configures a Generator. Zero values select the defaults.
type Options struct {
	Seed            int64
	WorldSize       float32 // world extent in voxels, centered on the origin
	SeaLevel        float32
	BlendDistance   float32 // biome edge softening width
	MaxCacheEntries int

	// OnReady fires after a region's field becomes bindable on the GPU.
	// Called from Process, never concurrently with itself.
	OnReady func(RegionCoord)
}

func (o *Options) applyDefaults() {
	if o.WorldSize <= 0 {
		o.WorldSize = 32768
	}
	if o.BlendDistance <= 0 {
		o.BlendDistance = 4
	}
	if o.MaxCacheEntries <= 0 {
		o.MaxCacheEntries = DefaultMaxCacheEntries
	}
}

// Generator produces voxel terrain fields on the compute device. Requests
// are prioritized by viewer distance and admitted under a per-frame budget;
// results live in an LRU cache keyed by (region, content type).
//
// All methods are safe for concurrent use, but Process is expected to be
// called from a single driver loop.
type Generator struct {
	backend Backend
	sched   *Scheduler
	cache   *resourceCache
	tracker *inflightTracker
	reader  *readbackWorker
	tel     *Telemetry

	seed      int64
	worldSize float32
	seaLevel  float32
	blendDist float32

	onReady func(RegionCoord)

	mu         sync.Mutex
	viewer     mgl32.Vec3
	biomeMap   *compute.Handle
	biomeFence *compute.Fence
}

// NewGenerator builds a generator on the backend. A disabled backend yields
// a generator whose operations are no-ops, so callers need no separate code
// path when the device is unavailable.
func NewGenerator(backend Backend, opts Options) (*Generator, error) {
	opts.applyDefaults()
	if err := registerKernels(backend); err != nil {
		return nil, fmt.Errorf("register terrain kernels: %w", err)
	}

	g := &Generator{
		backend:   backend,
		sched:     NewScheduler(!backend.Enabled()),
		cache:     newResourceCache(opts.MaxCacheEntries),
		tracker:   newInflightTracker(),
		tel:       NewTelemetry(),
		seed:      opts.Seed,
		worldSize: opts.WorldSize,
		seaLevel:  opts.SeaLevel,
		blendDist: opts.BlendDistance,
		onReady:   opts.OnReady,
	}
	g.reader = newReadbackWorker(backend)
	if backend.Enabled() {
		g.reader.Start()
	}
	return g, nil
}

// Enabled reports whether the compute device is usable.
func (g *Generator) Enabled() bool { return g.backend.Enabled() }

// Telemetry exposes the generator's timing collector.
func (g *Generator) Telemetry() *Telemetry { return g.tel }

// SetViewerPosition updates the reference point for request priorities.
// Already-queued requests keep the priority they were enqueued with.
func (g *Generator) SetViewerPosition(p mgl32.Vec3) {
	g.mu.Lock()
	g.viewer = p
	g.mu.Unlock()
}

// EnqueueRegion requests generation of one region's field. Duplicate
// requests for a region that is queued, in flight, or already cached are
// rejected. lod 0 additionally schedules a host copy of the result once the
// GPU finishes. Returns whether the request was accepted.
func (g *Generator) EnqueueRegion(coord RegionCoord, lod int) bool {
	if !g.backend.Enabled() {
		return false
	}
	key := CacheKey{Region: coord, Type: ContentField}
	if g.cache.contains(key) || g.tracker.contains(key) || g.sched.Pending(coord) {
		return false
	}

	g.mu.Lock()
	viewer := g.viewer
	g.mu.Unlock()

	return g.sched.Enqueue(RegionRequest{
		Coord:      coord,
		LOD:        lod,
		Priority:   coord.Center().Sub(viewer).Len(),
		EnqueuedAt: time.Now(),
	})
}

// Process advances the pipeline for one frame: harvests finished dispatches
// into the cache, then admits queued requests until the budget is spent.
// Returns the number of dispatches submitted this call.
func (g *Generator) Process(budget time.Duration) int {
	if !g.backend.Enabled() {
		return 0
	}
	defer profiling.Track("terrain.Process")()
	g.tel.FrameStart()
	g.pollBiomeFence()
	g.harvestCompleted()
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	return g.sched.Process(budget, g.dispatchRegion)
}

func (g *Generator) pollBiomeFence() {
	g.mu.Lock()
	fence := g.biomeFence
	g.mu.Unlock()
	if fence == nil {
		return
	}
	if g.backend.PollFence(fence) {
		g.mu.Lock()
		if g.biomeFence == fence {
			g.biomeFence = nil
		}
		g.mu.Unlock()
	}
}

// harvestCompleted moves finished in-flight jobs into the cache and queues
// host copies where requested.
func (g *Generator) harvestCompleted() {
	for _, job := range g.tracker.snapshot() {
		if !g.backend.PollFence(job.fence) {
			continue
		}
		g.tracker.remove(job.key)

		elapsed := time.Since(job.dispatchedAt)
		g.sched.ObserveCost(elapsed)
		g.tel.Observe("field.complete", elapsed)
		g.tel.countCompletion()

		g.cache.put(cacheEntry{
			key:      job.key,
			resource: job.resource,
			aux:      job.aux,
			gpuReady: true,
		})

		if job.needsHost {
			g.queueFieldReadback(job)
		}
		if g.onReady != nil {
			g.onReady(job.key.Region)
		}
	}
}

func (g *Generator) queueFieldReadback(job *inflight) {
	key := job.key
	start := time.Now()
	ok := g.reader.Submit(transferJob{
		key:         key,
		primary:     job.resource,
		primarySize: fieldVoxels() * 4,
		aux:         job.aux,
		auxSize:     fieldVoxels() * 4,
		apply: func(primary, aux []byte) {
			field, err := newFieldData(RegionSize, primary, aux)
			if err != nil {
				log.Printf("terrain: field %s host copy dropped: %v", key, err)
				return
			}
			g.cache.update(key, func(e *cacheEntry) {
				e.decoded = field
				e.hostReady = true
			})
			g.tel.Observe("field.readback", time.Since(start))
		},
	})
	if !ok {
		log.Printf("terrain: readback queue full, host copy for %s skipped", key)
	}
}

// dispatchRegion submits the field kernel for one request. Returns zero cost
// so the scheduler bills the running average instead of the cheap CPU-side
// submission time.
func (g *Generator) dispatchRegion(req RegionRequest) (time.Duration, bool) {
	key := CacheKey{Region: req.Coord, Type: ContentField}
	if g.cache.contains(key) || g.tracker.contains(key) {
		return 0, false
	}

	biome, err := g.ensureBiomeMap()
	if err != nil {
		log.Printf("terrain: biome map unavailable, dropping %s: %v", req.Coord, err)
		return 0, false
	}

	bytesPerChannel := fieldVoxels() * 4
	sdf, err := g.backend.CreateBuffer(fmt.Sprintf("field-sdf-%s", req.Coord), bytesPerChannel)
	if err != nil {
		log.Printf("terrain: allocate sdf buffer for %s: %v", req.Coord, err)
		return 0, false
	}
	mat, err := g.backend.CreateBuffer(fmt.Sprintf("field-mat-%s", req.Coord), bytesPerChannel)
	if err != nil {
		sdf.Release()
		log.Printf("terrain: allocate material buffer for %s: %v", req.Coord, err)
		return 0, false
	}

	origin := req.Coord.Origin()
	params := make([]byte, 32)
	putF32(params[0:], origin.X())
	putF32(params[4:], origin.Y())
	putF32(params[8:], origin.Z())
	putF32(params[12:], g.worldSize)
	putF32(params[16:], g.seaLevel)
	putF32(params[20:], g.blendDist)
	binary.LittleEndian.PutUint32(params[24:], RegionSize)
	binary.LittleEndian.PutUint32(params[28:], uint32(g.seed))

	const wg = RegionSize / 4 // field kernel runs 4x4x4 workgroups
	fence, err := g.backend.Dispatch(kernelField, []*compute.Handle{sdf, mat, biome}, params, wg, wg, wg)
	if err != nil {
		sdf.Release()
		mat.Release()
		log.Printf("terrain: dispatch field %s: %v", req.Coord, err)
		return 0, false
	}

	g.tracker.add(&inflight{
		key:          key,
		lod:          req.LOD,
		resource:     sdf,
		aux:          mat,
		fence:        fence,
		dispatchedAt: time.Now(),
		needsHost:    req.LOD == 0,
	})
	g.tel.countDispatch()
	return 0, true
}

// ensureBiomeMap lazily builds the world biome map on first use. The kernel
// runs on the same queue as every field dispatch, so queue ordering makes
// the map complete before anything samples it. If the kernel fails the map
// is computed on the host and uploaded instead.
func (g *Generator) ensureBiomeMap() (*compute.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.biomeMap != nil {
		return g.biomeMap, nil
	}

	size := biomeMapSize * biomeMapSize * 2 * 4
	handle, err := g.backend.CreateBuffer("biome-map", size)
	if err != nil {
		return nil, err
	}

	params := make([]byte, 32)
	binary.LittleEndian.PutUint32(params[0:], biomeMapSize)
	binary.LittleEndian.PutUint32(params[4:], biomeCount)
	putF32(params[8:], g.worldSize)
	putF32(params[12:], biomeCellScale)
	putF32(params[16:], biomeJitter)
	binary.LittleEndian.PutUint32(params[20:], uint32(g.seed))

	start := time.Now()
	const wg = biomeMapSize / 8
	fence, err := g.backend.Dispatch(kernelBiomeMap, []*compute.Handle{handle}, params, wg, wg, 1)
	if err != nil {
		// Host fallback: same Voronoi scheme, uploaded once.
		log.Printf("terrain: biome kernel failed, building map on host: %v", err)
		pairs := buildBiomeMap(biomeMapSize, float64(g.worldSize), biomeCellScale, biomeJitter, biomeCount, g.seed)
		if werr := g.backend.WriteBuffer(handle, 0, floatsToBytes(pairs)); werr != nil {
			handle.Release()
			return nil, werr
		}
	} else {
		g.biomeFence = fence
	}
	g.tel.Observe("biome.build", time.Since(start))

	g.biomeMap = handle
	return handle, nil
}

// SetBiomeMapImage replaces the procedural biome map with one authored as an
// image: red encodes the normalized biome id, green the edge distance. The
// image is resampled to the native map resolution. The override persists
// until ClearCache.
func (g *Generator) SetBiomeMapImage(img image.Image) error {
	if !g.backend.Enabled() {
		return compute.ErrDisabled
	}

	scaled := image.NewRGBA(image.Rect(0, 0, biomeMapSize, biomeMapSize))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	pairs := make([]float32, biomeMapSize*biomeMapSize*2)
	for y := 0; y < biomeMapSize; y++ {
		for x := 0; x < biomeMapSize; x++ {
			r, gch, _, _ := scaled.At(x, y).RGBA()
			i := (y*biomeMapSize + x) * 2
			pairs[i] = float32(r) / 65535
			pairs[i+1] = float32(gch) / 65535
		}
	}
	data := floatsToBytes(pairs)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.biomeMap == nil {
		handle, err := g.backend.CreateBufferInit("biome-map", data)
		if err != nil {
			return err
		}
		g.biomeMap = handle
	} else if err := g.backend.WriteBuffer(g.biomeMap, 0, data); err != nil {
		return err
	}
	g.biomeFence = nil
	return nil
}

// SampleBiomeAt classifies a world position on the host using the same
// jittered Voronoi scheme as the procedural map. Returns the biome id and
// the normalized distance to the nearest biome edge. Not meaningful when an
// authored map image is active.
func (g *Generator) SampleBiomeAt(wx, wz float32) (int, float32) {
	id, edge := voronoiBiome(float64(wx), float64(wz), biomeCellScale, biomeJitter, biomeCount, g.seed)
	return id, float32(edge)
}

// FieldResources returns the GPU buffers for a generated region (signed
// distance, then materials) and marks the region recently used. ok is false
// until the region's dispatch has completed.
func (g *Generator) FieldResources(coord RegionCoord) (sdf, materials *compute.Handle, ok bool) {
	entry, found := g.cache.get(CacheKey{Region: coord, Type: ContentField})
	if !found || !entry.gpuReady {
		return nil, nil, false
	}
	return entry.resource, entry.aux, true
}

// FieldData returns the host copy of a region's field, if one was requested
// (lod 0) and its transfer has finished.
func (g *Generator) FieldData(coord RegionCoord) (*FieldData, bool) {
	entry, found := g.cache.get(CacheKey{Region: coord, Type: ContentField})
	if !found || !entry.hostReady {
		return nil, false
	}
	field, ok := entry.decoded.(*FieldData)
	return field, ok
}

// HasRegion reports whether a region's field is generated, without touching
// cache recency.
func (g *Generator) HasRegion(coord RegionCoord) bool {
	entry, found := g.cache.peek(CacheKey{Region: coord, Type: ContentField})
	return found && entry.gpuReady
}

// Status summarizes the pipeline state for diagnostics overlays.
func (g *Generator) Status() string {
	if !g.backend.Enabled() {
		return "disabled"
	}
	_, _, total := g.tel.FrameCounters()
	return fmt.Sprintf("queued=%d inflight=%d cached=%d generated=%d",
		g.sched.QueueLen(), g.tracker.size(), g.cache.size(), total)
}

// CacheSize returns the number of live cache entries across all content
// types.
func (g *Generator) CacheSize() int { return g.cache.size() }

// QueueLen returns the number of requests waiting for dispatch.
func (g *Generator) QueueLen() int { return g.sched.QueueLen() }

// InflightCount returns the number of dispatches awaiting completion.
func (g *Generator) InflightCount() int { return g.tracker.size() }

// SetMaxCacheEntries adjusts the cache bound, evicting immediately if the
// new bound is smaller.
func (g *Generator) SetMaxCacheEntries(n int) { g.cache.setMaxEntries(n) }

// ClearCache drops every cached result and abandons in-flight work. The
// biome map is rebuilt on the next dispatch.
func (g *Generator) ClearCache() {
	g.tracker.drain()
	g.cache.clear()
	g.mu.Lock()
	g.biomeMap.Release()
	g.biomeMap = nil
	g.biomeFence = nil
	g.mu.Unlock()
}

// Close stops the readback worker and frees every device resource. The
// generator must not be used afterwards.
func (g *Generator) Close() {
	g.reader.Stop()
	g.ClearCache()
}

// biomeHandle exposes the map buffer to the vegetation pipeline in this
// package.
func (g *Generator) biomeHandle() (*compute.Handle, error) {
	return g.ensureBiomeMap()
}

// fieldEntry returns a cache snapshot for vegetation's field dependency
// check without promoting it.
func (g *Generator) fieldEntry(coord RegionCoord) (cacheEntry, bool) {
	return g.cache.peek(CacheKey{Region: coord, Type: ContentField})
}
