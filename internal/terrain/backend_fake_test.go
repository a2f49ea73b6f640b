package terrain

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zarigata/erathia-terrain/internal/compute"
)

// fakeBuffer is the in-memory stand-in for a device buffer.
type fakeBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *fakeBuffer) write(offset int, data []byte) {
	b.mu.Lock()
	copy(b.data[offset:], data)
	b.mu.Unlock()
}

func (b *fakeBuffer) read(offset, size int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out
}

// fakeDispatch records one Dispatch call. Tests complete dispatches manually
// to simulate the device finishing work.
type fakeDispatch struct {
	kernel    string
	buffers   []*compute.Handle
	params    []byte
	x, y, z   uint32
	done      bool
	submitted time.Time
}

// fakeBackend implements Backend with plain memory. Dispatches stay pending
// until a test calls complete or completeAll.
type fakeBackend struct {
	mu         sync.Mutex
	enabled    bool
	kernels    map[string]string
	dispatches []*fakeDispatch
	reads      int
	released   int

	failDispatch bool
	failCreate   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{enabled: true, kernels: make(map[string]string)}
}

func (f *fakeBackend) Enabled() bool { return f.enabled }

func (f *fakeBackend) RegisterKernel(name, source, entryPoint string) error {
	f.mu.Lock()
	f.kernels[name] = source
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) CreateBuffer(label string, size int) (*compute.Handle, error) {
	f.mu.Lock()
	fail := f.failCreate
	f.mu.Unlock()
	if fail {
		return nil, errors.New("fake: allocation refused")
	}
	buf := &fakeBuffer{data: make([]byte, size)}
	return compute.NewHandle(label, size, buf, func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}), nil
}

func (f *fakeBackend) CreateBufferInit(label string, data []byte) (*compute.Handle, error) {
	h, err := f.CreateBuffer(label, len(data))
	if err != nil {
		return nil, err
	}
	h.Native().(*fakeBuffer).write(0, data)
	return h, nil
}

func (f *fakeBackend) WriteBuffer(h *compute.Handle, offset int, data []byte) error {
	if !h.Valid() {
		return compute.ErrInvalidHandle
	}
	h.Native().(*fakeBuffer).write(offset, data)
	return nil
}

func (f *fakeBackend) Dispatch(kernel string, buffers []*compute.Handle, params []byte, x, y, z uint32) (*compute.Fence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDispatch {
		return nil, errors.New("fake: dispatch refused")
	}
	if _, ok := f.kernels[kernel]; !ok {
		return nil, compute.ErrUnknownKernel
	}
	d := &fakeDispatch{
		kernel:    kernel,
		buffers:   buffers,
		params:    append([]byte(nil), params...),
		x:         x,
		y:         y,
		z:         z,
		submitted: time.Now(),
	}
	f.dispatches = append(f.dispatches, d)
	return compute.NewFence(func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return d.done
	}, nil), nil
}

func (f *fakeBackend) PollFence(fence *compute.Fence) bool {
	return fence.Poll()
}

func (f *fakeBackend) ReadBuffer(h *compute.Handle, offset, size int) ([]byte, error) {
	if !h.Valid() {
		return nil, compute.ErrInvalidHandle
	}
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return h.Native().(*fakeBuffer).read(offset, size), nil
}

// complete marks the i-th dispatch finished.
func (f *fakeBackend) complete(i int) {
	f.mu.Lock()
	f.dispatches[i].done = true
	f.mu.Unlock()
}

func (f *fakeBackend) completeAll() {
	f.mu.Lock()
	for _, d := range f.dispatches {
		d.done = true
	}
	f.mu.Unlock()
}

func (f *fakeBackend) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatches)
}

func (f *fakeBackend) dispatchAt(i int) *fakeDispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatches[i]
}

func (f *fakeBackend) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeBackend) releasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// waitFor polls cond until it holds or the deadline passes. Readback runs on
// a worker goroutine, so host-copy assertions need a grace period.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
