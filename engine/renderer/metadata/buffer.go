package metadata

/** @brief The memory pool a buffer is committed in. */
type HeapType uint32

const (
	/** @brief GPU-local memory. Not CPU visible. */
	HEAP_TYPE_DEFAULT HeapType = iota
	/** @brief CPU-writable memory the GPU reads from. */
	HEAP_TYPE_UPLOAD
	/** @brief GPU-writable memory the CPU reads back. */
	HEAP_TYPE_READBACK
)

func (h HeapType) String() string {
	switch h {
	case HEAP_TYPE_DEFAULT:
		return "default"
	case HEAP_TYPE_UPLOAD:
		return "upload"
	case HEAP_TYPE_READBACK:
		return "readback"
	}
	return "unknown"
}

/** @brief The usage state a buffer is created in. */
type ResourceState uint32

const (
	RESOURCE_STATE_COMMON ResourceState = iota
	RESOURCE_STATE_GENERIC_READ
	RESOURCE_STATE_UNORDERED_ACCESS
	RESOURCE_STATE_COPY_DEST
	RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE
)

type ResourceFlags uint32

const (
	RESOURCE_FLAG_NONE                   ResourceFlags = 0x0
	RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS ResourceFlags = 0x1
)

/** @brief Describes a committed buffer to create. */
type BufferDesc struct {
	/** @brief Debug name, shows up in logs and validation messages. */
	Name string
	/** @brief The size in bytes. */
	Size uint64
	Heap HeapType
	/** @brief The state the buffer starts in. */
	InitialState ResourceState
	Flags        ResourceFlags
}
