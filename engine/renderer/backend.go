package renderer

import (
	"context"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Buffer is a committed GPU buffer. Acceleration structures and the data
// they are built from are referenced by GPU virtual address, so a Buffer
// must outlive every queued command touching its address range.
type Buffer interface {
	Name() string
	// Address is the GPU virtual address of the first byte.
	Address() uint64
	Size() uint64
	Heap() metadata.HeapType
	// Map returns the CPU view of an upload or readback buffer. The slice is
	// only valid until Unmap.
	Map() ([]byte, error)
	Unmap()
	// Release frees the memory immediately. Callers hand buffers to a
	// fence-checked retire list instead of releasing them directly.
	Release()
	IsReleased() bool
}

// CommandList records GPU work between Reset and Close.
type CommandList interface {
	Reset() error
	Close() error
	BuildAccelerationStructure(desc *metadata.BuildDesc, postbuild []metadata.PostbuildInfoDesc)
	EmitPostbuildInfo(desc metadata.PostbuildInfoDesc, sources []uint64)
	CopyAccelerationStructure(dest, source uint64, mode metadata.CopyMode)
	// BarrierUAV orders every earlier write to buffer before every later read.
	BarrierUAV(buffer Buffer)
	// DispatchRays traces rays against the top-level structure at tlas. Hits
	// are written to out once the list has executed.
	DispatchRays(tlas uint64, rays []metadata.RayDesc, out []metadata.RayHit)
}

// Queue executes command lists in submission order.
type Queue interface {
	Submit(lists ...CommandList) error
	Signal(fence Fence, value uint64) error
}

// Fence is a monotonic counter the queue advances as work completes.
type Fence interface {
	CompletedValue() uint64
	// Wait blocks until the fence reaches value, the context is done or the
	// device is lost.
	Wait(ctx context.Context, value uint64) error
}

type Device interface {
	Name() string
	CreateBuffer(desc metadata.BufferDesc) (Buffer, error)
	CreateCommandList() (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)
	Queue() Queue
	// GetAccelerationStructurePrebuildInfo is the driver's size oracle.
	GetAccelerationStructurePrebuildInfo(inputs *metadata.BuildInputs) metadata.PrebuildInfo
	// RemovedReason returns nil while the device is healthy and an error
	// wrapping ErrDeviceLost afterwards.
	RemovedReason() error
	Destroy() error
}
