// erathiagen runs the terrain and vegetation generation pipeline headless:
// it flies a virtual viewer across the world, streams regions around it, and
// logs throughput. Useful for soak-testing kernels and budgets without an
// engine attached.
package main

import (
	"flag"
	"log"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/xlab/closer"

	"github.com/zarigata/erathia-terrain/internal/compute"
	"github.com/zarigata/erathia-terrain/internal/config"
	"github.com/zarigata/erathia-terrain/internal/profiling"
	"github.com/zarigata/erathia-terrain/internal/terrain"
)

func main() {
	seed := flag.Int64("seed", 1337, "world generation seed")
	radius := flag.Int("radius", 6, "generation radius in regions")
	tickRate := flag.Int("tickrate", 60, "simulation ticks per second (0 = unlimited)")
	duration := flag.Duration("duration", 30*time.Second, "how long to run (0 = until interrupted)")
	speed := flag.Float64("speed", 40, "viewer flight speed in voxels per second")
	profiles := flag.String("vegetation", "", "vegetation profile YAML (empty = built-ins)")
	flag.Parse()

	config.SetSeed(*seed)
	config.SetGenerateRadius(*radius)
	if *profiles != "" {
		if err := config.LoadVegetationProfiles(*profiles); err != nil {
			log.Fatalf("erathiagen: %v", err)
		}
	}

	ctx := compute.New()
	closer.Bind(ctx.Close)
	if ctx.Enabled() {
		info := ctx.Info()
		log.Printf("erathiagen: device %q (%s)", info.Name, info.Backend)
	} else {
		log.Printf("erathiagen: %s", ctx.Status())
	}

	gen, err := terrain.NewGenerator(ctx, terrain.Options{
		Seed:            config.GetSeed(),
		WorldSize:       config.GetWorldSize(),
		SeaLevel:        config.GetSeaLevel(),
		BlendDistance:   config.GetBlendDistance(),
		MaxCacheEntries: config.GetMaxCacheEntries(),
	})
	if err != nil {
		log.Fatalf("erathiagen: %v", err)
	}
	closer.Bind(gen.Close)

	veg := terrain.NewVegetation(gen)
	closer.Bind(veg.Close)

	go run(gen, veg, *tickRate, *duration, float32(*speed))
	closer.Hold()
}

func run(gen *terrain.Generator, veg *terrain.Vegetation, tickRate int, duration time.Duration, speed float32) {
	limiter := NewTickLimiter()
	start := time.Now()
	lastReport := start
	var tick uint64

	for {
		if duration > 0 && time.Since(start) > duration {
			break
		}
		limiter.Wait(tickRate)
		profiling.ResetFrame()

		// Fly a slow circle so the streamed window keeps moving.
		elapsed := float32(time.Since(start).Seconds())
		orbit := elapsed * speed / 500
		viewer := mgl32.Vec3{
			float32(math.Cos(float64(orbit))) * elapsed * speed,
			64,
			float32(math.Sin(float64(orbit))) * elapsed * speed,
		}
		gen.SetViewerPosition(viewer)

		streamAround(gen, viewer)
		gen.Process(config.GetFrameBudget())
		scatterVegetation(gen, veg, viewer)
		veg.Process()

		tick++
		if time.Since(lastReport) >= time.Second {
			lastReport = time.Now()
			report(gen, veg, viewer)
		}
	}

	report(gen, veg, mgl32.Vec3{})
	log.Printf("erathiagen: done after %d ticks", tick)
	closer.Close()
}

// streamAround enqueues the column of regions in a square window around the
// viewer. Duplicates are rejected cheaply, so enqueueing every tick is fine.
func streamAround(gen *terrain.Generator, viewer mgl32.Vec3) {
	radius := config.GetGenerateRadius()
	center := regionAt(viewer)
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			coord := terrain.RegionCoord{X: center.X + dx, Y: center.Y, Z: center.Z + dz}
			lod := 1
			if dx >= -1 && dx <= 1 && dz >= -1 && dz <= 1 {
				lod = 0 // host copies only near the viewer
			}
			gen.EnqueueRegion(coord, lod)
		}
	}
}

// scatterVegetation requests every configured profile for the regions
// immediately around the viewer once their fields exist.
func scatterVegetation(gen *terrain.Generator, veg *terrain.Vegetation, viewer mgl32.Vec3) {
	center := regionAt(viewer)
	for _, p := range config.VegetationProfiles() {
		params := terrain.VegetationParams{
			Density:        p.Density,
			Spacing:        p.Spacing,
			NoiseFrequency: p.NoiseFrequency,
			MaxSlope:       p.MaxSlope,
			HeightMin:      p.HeightMin,
			HeightMax:      p.HeightMax,
		}
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				coord := terrain.RegionCoord{X: center.X + dx, Y: center.Y, Z: center.Z + dz}
				if !gen.HasRegion(coord) {
					continue
				}
				err := veg.GeneratePlacements(coord, terrain.ContentType(p.ContentType), params, p.HostCopy)
				if err != nil && err != terrain.ErrFieldMissing {
					log.Printf("erathiagen: vegetation %s at %s: %v", p.Name, coord, err)
				}
			}
		}
	}
}

func regionAt(p mgl32.Vec3) terrain.RegionCoord {
	return terrain.RegionCoord{
		X: int(math.Floor(float64(p.X()) / terrain.RegionSize)),
		Y: int(math.Floor(float64(p.Y()) / terrain.RegionSize)),
		Z: int(math.Floor(float64(p.Z()) / terrain.RegionSize)),
	}
}

func report(gen *terrain.Generator, veg *terrain.Vegetation, viewer mgl32.Vec3) {
	dispatched, completed, total := gen.Telemetry().FrameCounters()
	log.Printf("erathiagen: viewer=(%.0f,%.0f,%.0f) queue=%d inflight=%d+%d cache=%d frame=(+%d,-%d) total=%d",
		viewer.X(), viewer.Y(), viewer.Z(),
		gen.QueueLen(), gen.InflightCount(), veg.InflightCount(), gen.CacheSize(),
		dispatched, completed, total)
	if hot := profiling.TopN(3); hot != "" {
		log.Printf("erathiagen: hot: %s", hot)
	}
}
