package renderer

import "errors"

var (
	// ErrDeviceLost is returned once the device was removed or reset. Every
	// GPU object created from it is unusable afterwards.
	ErrDeviceLost = errors.New("device lost")
	// ErrOutOfMemory is returned when a heap cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("out of device memory")
	// ErrBufferReleased is returned when a released buffer is mapped.
	ErrBufferReleased = errors.New("buffer already released")
	// ErrNotMappable is returned when a default-heap buffer is mapped.
	ErrNotMappable = errors.New("buffer heap is not CPU visible")
)
