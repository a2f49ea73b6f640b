// Package compute wraps a WebGPU device for headless compute dispatch.
//
// The Context is an explicitly owned service object: the host engine creates
// one and passes it to every consumer. When no compute-capable device can be
// acquired the context degrades to a disabled state that logs exactly one
// warning and turns all later calls into cheap no-ops, so a missing GPU is an
// operational condition rather than a fatal one.
package compute

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrDisabled is returned by all device operations on a disabled context.
	ErrDisabled = errors.New("compute: device unavailable, pipeline disabled")

	// ErrUnknownKernel is returned when dispatching a kernel that was never
	// registered.
	ErrUnknownKernel = errors.New("compute: unknown kernel")

	// ErrInvalidHandle is returned when an operation receives a released or
	// foreign handle.
	ErrInvalidHandle = errors.New("compute: invalid resource handle")
)

// kernel is one compiled compute program: shader module plus pipeline.
type kernel struct {
	module   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
}

// Context owns the device, queue and compiled kernels.
type Context struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu      sync.Mutex
	kernels map[string]*kernel

	disabled bool
	status   string
}

// AdapterInfo describes the acquired device.
type AdapterInfo struct {
	Name    string
	Vendor  string
	Backend string
	Driver  string
}

// New acquires a high-performance compute device. On failure it returns a
// disabled context and logs a single warning; callers do not need to treat
// this as an error.
func New() *Context {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return newDisabled(fmt.Sprintf("no compute adapter: %v", err))
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return newDisabled(fmt.Sprintf("no compute device: %v", err))
	}

	return &Context{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		kernels:  make(map[string]*kernel),
		status:   "device ready",
	}
}

// NewDisabled returns a context that refuses all device work. Used by hosts
// that run headless on purpose.
func NewDisabled() *Context {
	return newDisabled("disabled by host")
}

func newDisabled(reason string) *Context {
	log.Printf("compute: %s; generation pipeline disabled", reason)
	return &Context{disabled: true, status: reason}
}

// Enabled reports whether device work can be submitted.
func (c *Context) Enabled() bool { return !c.disabled }

// Status returns a human-readable device state string.
func (c *Context) Status() string { return c.status }

// Info returns adapter details, or zero values when disabled.
func (c *Context) Info() AdapterInfo {
	if c.disabled {
		return AdapterInfo{}
	}
	info := c.adapter.GetInfo()
	return AdapterInfo{
		Name:    info.Name,
		Vendor:  info.VendorName,
		Backend: info.BackendType.String(),
		Driver:  info.DriverDescription,
	}
}

// RegisterKernel compiles a WGSL compute shader and caches the pipeline under
// the given name. Registering an already-known name is a no-op.
func (c *Context) RegisterKernel(name, source, entryPoint string) error {
	if c.disabled {
		return ErrDisabled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.kernels[name]; ok {
		return nil
	}

	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: source,
		},
	})
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}

	pipeline, err := c.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: name,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		module.Release()
		return fmt.Errorf("create pipeline %s: %w", name, err)
	}

	c.kernels[name] = &kernel{
		module:   module,
		pipeline: pipeline,
		layout:   pipeline.GetBindGroupLayout(0),
	}
	return nil
}

// CreateBuffer allocates a zeroed storage buffer.
func (c *Context) CreateBuffer(label string, size int) (*Handle, error) {
	if c.disabled {
		return nil, ErrDisabled
	}
	buf, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	return NewHandle(label, size, buf, buf.Release), nil
}

// CreateBufferInit allocates a storage buffer with initial contents.
func (c *Context) CreateBufferInit(label string, data []byte) (*Handle, error) {
	if c.disabled {
		return nil, ErrDisabled
	}
	buf, err := c.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: data,
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	return NewHandle(label, len(data), buf, buf.Release), nil
}

// WriteBuffer uploads data into an existing buffer.
func (c *Context) WriteBuffer(h *Handle, offset int, data []byte) error {
	if c.disabled {
		return ErrDisabled
	}
	buf, err := c.nativeBuffer(h)
	if err != nil {
		return err
	}
	c.queue.WriteBuffer(buf, uint64(offset), data)
	return nil
}

// Dispatch binds the given buffers in order, uploads params as a uniform
// buffer (WebGPU has no push constants), submits the compute pass and returns
// a pollable fence. It never waits for the device.
func (c *Context) Dispatch(kernelName string, buffers []*Handle, params []byte, x, y, z uint32) (*Fence, error) {
	if c.disabled {
		return nil, ErrDisabled
	}
	if y == 0 {
		y = 1
	}
	if z == 0 {
		z = 1
	}

	c.mu.Lock()
	k, ok := c.kernels[kernelName]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, kernelName)
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(buffers)+1)
	for i, h := range buffers {
		buf, err := c.nativeBuffer(h)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf,
			Size:    uint64(h.Size()),
		})
	}

	// Params ride in a uniform buffer at the binding after the storage
	// buffers. The queue keeps it alive for the submitted work, so it can be
	// released right after submit.
	var paramsBuf *wgpu.Buffer
	if len(params) > 0 {
		var err error
		paramsBuf, err = c.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    kernelName + "_params",
			Contents: params,
			Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("params buffer: %w", err)
		}
		defer paramsBuf.Release()
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(len(buffers)),
			Buffer:  paramsBuf,
			Size:    uint64(len(params)),
		})
	}

	bindGroup, err := c.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   kernelName + "_bind",
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("bind group: %w", err)
	}
	defer bindGroup.Release()

	// A 4-byte staging copy of the first output buffer doubles as the fence:
	// its MapAsync callback fires once the queue has executed everything
	// submitted before it.
	fenceStaging, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: kernelName + "_fence",
		Size:  4,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("fence buffer: %w", err)
	}

	encoder, err := c.device.CreateCommandEncoder(nil)
	if err != nil {
		fenceStaging.Release()
		return nil, fmt.Errorf("command encoder: %w", err)
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, z)
	pass.End()
	pass.Release()

	if len(buffers) > 0 {
		if buf, err := c.nativeBuffer(buffers[0]); err == nil {
			encoder.CopyBufferToBuffer(buf, 0, fenceStaging, 0, 4)
		}
	}

	commands, err := encoder.Finish(nil)
	if err != nil {
		fenceStaging.Release()
		return nil, fmt.Errorf("finish encoder: %w", err)
	}
	c.queue.Submit(commands)
	commands.Release()

	var done atomic.Bool
	err = fenceStaging.MapAsync(wgpu.MapModeRead, 0, 4, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			log.Printf("compute: fence map for %s returned %v", kernelName, status)
		}
		done.Store(true)
	})
	if err != nil {
		fenceStaging.Release()
		return nil, fmt.Errorf("fence map: %w", err)
	}

	return NewFence(done.Load, func() {
		fenceStaging.Unmap()
		fenceStaging.Release()
	}), nil
}

// PollFence pumps the device once without waiting and reports whether the
// fenced work has completed.
func (c *Context) PollFence(f *Fence) bool {
	if c.disabled {
		return true
	}
	c.device.Poll(false, nil)
	return f.Poll()
}

// ReadBuffer copies a buffer range back to host memory. This blocks until the
// device finishes; callers keep it off the main path (the readback worker is
// the only expected caller).
func (c *Context) ReadBuffer(h *Handle, offset, size int) ([]byte, error) {
	if c.disabled {
		return nil, ErrDisabled
	}
	src, err := c.nativeBuffer(h)
	if err != nil {
		return nil, err
	}

	staging, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "staging_read",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("staging buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := c.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(src, uint64(offset), staging, 0, uint64(size))
	commands, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish encoder: %w", err)
	}
	c.queue.Submit(commands)
	commands.Release()

	done := make(chan error, 1)
	err = staging.MapAsync(wgpu.MapModeRead, 0, uint64(size), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("map staging buffer: %v", status)
		} else {
			done <- nil
		}
	})
	if err != nil {
		return nil, err
	}

	c.device.Poll(true, nil)
	if err := <-done; err != nil {
		return nil, err
	}

	mapped := staging.GetMappedRange(0, uint(size))
	out := make([]byte, len(mapped))
	copy(out, mapped)
	staging.Unmap()

	return out, nil
}

// Close releases all kernels and the device. The context is unusable after.
func (c *Context) Close() {
	if c.disabled {
		return
	}
	c.mu.Lock()
	for _, k := range c.kernels {
		k.layout.Release()
		k.pipeline.Release()
		k.module.Release()
	}
	c.kernels = nil
	c.mu.Unlock()

	c.queue.Release()
	c.device.Release()
	c.adapter.Release()
	c.instance.Release()
	c.disabled = true
	c.status = "closed"
}

func (c *Context) nativeBuffer(h *Handle) (*wgpu.Buffer, error) {
	if !h.Valid() {
		return nil, ErrInvalidHandle
	}
	buf, ok := h.Native().(*wgpu.Buffer)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return buf, nil
}
