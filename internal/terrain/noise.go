package terrain

import "math"

// Deterministic value noise and cell hashing for the host-side biome map
// fallback. Integer hashing keeps results stable across runs for the same
// seed; the kernels implement the same scheme in WGSL.

func fade(t float64) float64 {
	// 6t^5 - 15t^4 + 10t^3
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func hash2(x, z, seed int64) uint64 {
	// SplitMix64-style mix.
	v := uint64(x) + (uint64(z) << 1) + uint64(seed)*0x9E3779B97F4A7C15
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

func latticeValue(x, z, seed int64) float64 {
	return float64(hash2(x, z, seed)&0xFFFFFFFF) / float64(0xFFFFFFFF)
}

func valueNoise2D(x, z float64, seed int64) float64 {
	x0 := math.Floor(x)
	z0 := math.Floor(z)

	fx := fade(x - x0)
	fz := fade(z - z0)

	v00 := latticeValue(int64(x0), int64(z0), seed)
	v10 := latticeValue(int64(x0)+1, int64(z0), seed)
	v01 := latticeValue(int64(x0), int64(z0)+1, seed)
	v11 := latticeValue(int64(x0)+1, int64(z0)+1, seed)

	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fz) // [0,1]
}

// buildBiomeMap computes a size*size grid of (biome id, edge distance) pairs
// covering worldSize meters, using jittered Voronoi cells of cellScale
// meters. The layout matches the biome map kernel's output so either source
// can feed the field and vegetation kernels.
func buildBiomeMap(size int, worldSize, cellScale, jitter float64, biomeCount int, seed int64) []float32 {
	out := make([]float32, size*size*2)
	for py := 0; py < size; py++ {
		for px := 0; px < size; px++ {
			wx := (float64(px)/float64(size) - 0.5) * worldSize
			wz := (float64(py)/float64(size) - 0.5) * worldSize

			id, edge := voronoiBiome(wx, wz, cellScale, jitter, biomeCount, seed)

			i := (py*size + px) * 2
			out[i] = float32(id) / float32(biomeCount-1)
			out[i+1] = float32(edge)
		}
	}
	return out
}

// voronoiBiome returns the biome id owning the world position plus the
// normalized distance to the nearest cell edge, which the field kernel uses
// for blending.
func voronoiBiome(wx, wz, cellScale, jitter float64, biomeCount int, seed int64) (int, float64) {
	cx := math.Floor(wx / cellScale)
	cz := math.Floor(wz / cellScale)

	bestDist := math.MaxFloat64
	secondDist := math.MaxFloat64
	bestID := 0
	for dz := int64(-1); dz <= 1; dz++ {
		for dx := int64(-1); dx <= 1; dx++ {
			ix := int64(cx) + dx
			iz := int64(cz) + dz
			jx := latticeValue(ix, iz, seed) - 0.5
			jz := latticeValue(ix, iz, seed+1) - 0.5
			centerX := (float64(ix) + 0.5 + jx*jitter) * cellScale
			centerZ := (float64(iz) + 0.5 + jz*jitter) * cellScale
			d := math.Hypot(wx-centerX, wz-centerZ)
			if d < bestDist {
				secondDist = bestDist
				bestDist = d
				bestID = int(hash2(ix, iz, seed+2) % uint64(biomeCount))
			} else if d < secondDist {
				secondDist = d
			}
		}
	}

	edge := (secondDist - bestDist) / cellScale
	if edge > 1 {
		edge = 1
	}
	return bestID, edge
}
