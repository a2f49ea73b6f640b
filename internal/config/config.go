package config

import (
	"sync"
	"time"
)

// StreamSettings holds region streaming configuration
type StreamSettings struct {
	mu              sync.RWMutex
	generateRadius  int // in regions
	frameBudget     time.Duration
	maxCacheEntries int
}

var globalStreamSettings = &StreamSettings{
	generateRadius:  8,
	frameBudget:     8 * time.Millisecond,
	maxCacheEntries: 500,
}

// GetGenerateRadius returns the current generation radius in regions
func GetGenerateRadius() int {
	globalStreamSettings.mu.RLock()
	defer globalStreamSettings.mu.RUnlock()
	return globalStreamSettings.generateRadius
}

// SetGenerateRadius sets the generation radius in regions
func SetGenerateRadius(radius int) {
	globalStreamSettings.mu.Lock()
	defer globalStreamSettings.mu.Unlock()

	// Clamp to reasonable values
	if radius < 1 {
		radius = 1
	}
	if radius > 32 {
		radius = 32
	}

	globalStreamSettings.generateRadius = radius
}

// GetEvictRadius returns the radius beyond which cached regions may be
// dropped (larger than the generate radius)
func GetEvictRadius() int {
	return GetGenerateRadius() * 2
}

// GetFrameBudget returns the per-frame dispatch time budget
func GetFrameBudget() time.Duration {
	globalStreamSettings.mu.RLock()
	defer globalStreamSettings.mu.RUnlock()
	return globalStreamSettings.frameBudget
}

// SetFrameBudget sets the per-frame dispatch time budget
func SetFrameBudget(budget time.Duration) {
	globalStreamSettings.mu.Lock()
	defer globalStreamSettings.mu.Unlock()

	if budget < time.Millisecond {
		budget = time.Millisecond
	}
	if budget > 50*time.Millisecond {
		budget = 50 * time.Millisecond
	}

	globalStreamSettings.frameBudget = budget
}

// GetMaxCacheEntries returns the cache entry bound
func GetMaxCacheEntries() int {
	globalStreamSettings.mu.RLock()
	defer globalStreamSettings.mu.RUnlock()
	return globalStreamSettings.maxCacheEntries
}

// SetMaxCacheEntries sets the cache entry bound
func SetMaxCacheEntries(n int) {
	globalStreamSettings.mu.Lock()
	defer globalStreamSettings.mu.Unlock()

	if n < 16 {
		n = 16
	}
	if n > 10000 {
		n = 10000
	}

	globalStreamSettings.maxCacheEntries = n
}
