package terrain

import (
	_ "embed"
)

// Kernel names as registered on the compute backend.
const (
	kernelBiomeMap   = "biome_map"
	kernelField      = "field"
	kernelVegetation = "vegetation"
	kernelTransform  = "transform"
)

//go:embed shaders/biome_map.wgsl
var biomeMapWGSL string

//go:embed shaders/field.wgsl
var fieldWGSL string

//go:embed shaders/vegetation.wgsl
var vegetationWGSL string

//go:embed shaders/transform.wgsl
var transformWGSL string

// registerKernels compiles every terrain kernel on the backend. Safe to call
// on a disabled backend, where it is a no-op.
func registerKernels(b Backend) error {
	if !b.Enabled() {
		return nil
	}
	kernels := []struct {
		name   string
		source string
	}{
		{kernelBiomeMap, biomeMapWGSL},
		{kernelField, fieldWGSL},
		{kernelVegetation, vegetationWGSL},
		{kernelTransform, transformWGSL},
	}
	for _, k := range kernels {
		if err := b.RegisterKernel(k.name, k.source, "main"); err != nil {
			return err
		}
	}
	return nil
}
