package config

import "sync"

// WorldGenSettings holds world generation configuration
type WorldGenSettings struct {
	mu        sync.RWMutex
	seed      int64
	worldSize float32 // world extent in voxels
	seaLevel  float32
	blendDist float32 // biome edge softening width in voxels
}

var globalWorldGenSettings = &WorldGenSettings{
	seed:      0,
	worldSize: 32768, // covers the biome map exactly once
	seaLevel:  0,
	blendDist: 4,
}

// GetSeed returns the world generation seed
func GetSeed() int64 {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.seed
}

// SetSeed sets the world generation seed
func SetSeed(seed int64) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()
	globalWorldGenSettings.seed = seed
}

// GetWorldSize returns the world extent in voxels
func GetWorldSize() float32 {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.worldSize
}

// SetWorldSize sets the world extent in voxels
func SetWorldSize(size float32) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()

	if size < 1024 {
		size = 1024
	}
	globalWorldGenSettings.worldSize = size
}

// GetSeaLevel returns the configured sea level
func GetSeaLevel() float32 {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.seaLevel
}

// SetSeaLevel sets the sea level
func SetSeaLevel(level float32) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()
	globalWorldGenSettings.seaLevel = level
}

// GetBlendDistance returns the biome edge blend width
func GetBlendDistance() float32 {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.blendDist
}

// SetBlendDistance sets the biome edge blend width
func SetBlendDistance(d float32) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()

	if d < 0 {
		d = 0
	}
	globalWorldGenSettings.blendDist = d
}
