package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// BufferAllocator is a thin wrapper over the device allocator that applies
// the alignment and state rules of acceleration-structure memory.
type BufferAllocator struct {
	device renderer.Device
	// Bytes handed out and not yet released through Free.
	allocated uint64
}

func NewBufferAllocator(device renderer.Device) *BufferAllocator {
	core.Assert(device != nil, "buffer allocator requires a device")
	return &BufferAllocator{device: device}
}

// CreateBuffer allocates a committed buffer.
func (a *BufferAllocator) CreateBuffer(name string, size uint64, state metadata.ResourceState, flags metadata.ResourceFlags, heap metadata.HeapType) (renderer.Buffer, error) {
	core.Assert(size > 0, "buffer `%s` requested with zero size", name)

	buf, err := a.device.CreateBuffer(metadata.BufferDesc{
		Name:         name,
		Size:         size,
		Heap:         heap,
		InitialState: state,
		Flags:        flags,
	})
	if err != nil {
		err = fmt.Errorf("failed to allocate buffer `%s` (%d bytes, %s heap): %w", name, size, heap, err)
		core.LogError(err.Error())
		return nil, err
	}
	a.allocated += buf.Size()
	return buf, nil
}

// CreateUploadBuffer allocates an upload-heap buffer holding a copy of data.
func (a *BufferAllocator) CreateUploadBuffer(name string, data []byte) (renderer.Buffer, error) {
	buf, err := a.CreateBuffer(name, uint64(len(data)), metadata.RESOURCE_STATE_GENERIC_READ, metadata.RESOURCE_FLAG_NONE, metadata.HEAP_TYPE_UPLOAD)
	if err != nil {
		return nil, err
	}
	if err := a.Upload(buf, data); err != nil {
		a.Free(buf)
		return nil, err
	}
	return buf, nil
}

// Upload copies data to the start of a mapped upload buffer. The mapping
// does not outlive the copy.
func (a *BufferAllocator) Upload(buf renderer.Buffer, data []byte) error {
	core.Assert(uint64(len(data)) <= buf.Size(), "upload of %d bytes overflows buffer `%s` (%d bytes)", len(data), buf.Name(), buf.Size())
	mapped, err := buf.Map()
	if err != nil {
		return fmt.Errorf("failed to map `%s`: %w", buf.Name(), err)
	}
	defer buf.Unmap()
	copy(mapped, data)
	return nil
}

// CreateScratchBuffer allocates transient build memory.
func (a *BufferAllocator) CreateScratchBuffer(name string, size uint64) (renderer.Buffer, error) {
	return a.CreateBuffer(name, metadata.AlignAccelerationStructureSize(size),
		metadata.RESOURCE_STATE_UNORDERED_ACCESS, metadata.RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS, metadata.HEAP_TYPE_DEFAULT)
}

// CreateResultBuffer allocates memory an acceleration structure is written into.
func (a *BufferAllocator) CreateResultBuffer(name string, size uint64) (renderer.Buffer, error) {
	return a.CreateBuffer(name, metadata.AlignAccelerationStructureSize(size),
		metadata.RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE, metadata.RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS, metadata.HEAP_TYPE_DEFAULT)
}

// CreateInstanceBuffer allocates the CPU-writable instance descriptor array.
func (a *BufferAllocator) CreateInstanceBuffer(name string, size uint64) (renderer.Buffer, error) {
	return a.CreateBuffer(name, metadata.GetAligned(size, metadata.RAYTRACING_INSTANCE_DESCS_BYTE_ALIGNMENT),
		metadata.RESOURCE_STATE_GENERIC_READ, metadata.RESOURCE_FLAG_NONE, metadata.HEAP_TYPE_UPLOAD)
}

// CreateReadbackBuffer allocates GPU-written memory the CPU can read.
func (a *BufferAllocator) CreateReadbackBuffer(name string, size uint64) (renderer.Buffer, error) {
	return a.CreateBuffer(name, size, metadata.RESOURCE_STATE_COPY_DEST, metadata.RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS, metadata.HEAP_TYPE_READBACK)
}

// Free releases buf right away. Only call it for buffers no queued command
// references; everything else goes through a RetireList.
func (a *BufferAllocator) Free(buf renderer.Buffer) {
	if buf == nil || buf.IsReleased() {
		return
	}
	a.allocated -= buf.Size()
	buf.Release()
}

// Allocated returns the bytes currently held through this allocator.
func (a *BufferAllocator) Allocated() uint64 {
	return a.allocated
}
