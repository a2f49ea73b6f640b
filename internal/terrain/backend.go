package terrain

import "github.com/zarigata/erathia-terrain/internal/compute"

// Backend is the slice of the compute context this package uses. It exists so
// tests can substitute a fake device; *compute.Context satisfies it.
//
// Dispatch and PollFence never block. ReadBuffer blocks until the device
// finishes and is only called from the readback worker.
type Backend interface {
	Enabled() bool
	RegisterKernel(name, source, entryPoint string) error
	CreateBuffer(label string, size int) (*compute.Handle, error)
	CreateBufferInit(label string, data []byte) (*compute.Handle, error)
	WriteBuffer(h *compute.Handle, offset int, data []byte) error
	Dispatch(kernel string, buffers []*compute.Handle, params []byte, x, y, z uint32) (*compute.Fence, error)
	PollFence(f *compute.Fence) bool
	ReadBuffer(h *compute.Handle, offset, size int) ([]byte, error)
}

var _ Backend = (*compute.Context)(nil)
