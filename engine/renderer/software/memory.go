package software

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	// First GPU virtual address handed out.
	BASE_ADDRESS uint64 = 1 << 32
	// Placement alignment of committed buffers.
	PLACEMENT_ALIGNMENT uint64 = 64 * 1024
)

// Buffer is a committed buffer backed by host memory.
type Buffer struct {
	device  *Device
	name    string
	address uint64
	size    uint64
	heap    metadata.HeapType
	state   metadata.ResourceState
	flags   metadata.ResourceFlags
	data    []byte

	mapped   bool
	released bool
}

func (b *Buffer) Name() string {
	return b.name
}

func (b *Buffer) Address() uint64 {
	return b.address
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Heap() metadata.HeapType {
	return b.heap
}

func (b *Buffer) Map() ([]byte, error) {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()

	if b.released {
		return nil, fmt.Errorf("map `%s`: %w", b.name, renderer.ErrBufferReleased)
	}
	if b.device.removed != nil {
		return nil, fmt.Errorf("map `%s`: %w", b.name, b.device.removed)
	}
	if b.heap == metadata.HEAP_TYPE_DEFAULT {
		return nil, fmt.Errorf("map `%s`: %w", b.name, renderer.ErrNotMappable)
	}
	b.mapped = true
	return b.data, nil
}

func (b *Buffer) Unmap() {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	b.mapped = false
}

func (b *Buffer) Release() {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	b.device.releaseLocked(b)
}

func (b *Buffer) IsReleased() bool {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	return b.released
}

type addressRange struct {
	start, end uint64
	name       string
}

// addressSpace hands out GPU virtual addresses. Addresses are never reused,
// so a stale address always resolves to the released range it came from.
type addressSpace struct {
	next   uint64
	budget uint64
	used   uint64
	// Sorted by address.
	live  []*Buffer
	freed []addressRange
}

func newAddressSpace(budget uint64) *addressSpace {
	return &addressSpace{next: BASE_ADDRESS, budget: budget}
}

func (a *addressSpace) allocate(size uint64) (uint64, error) {
	if a.budget > 0 && a.used+size > a.budget {
		return 0, fmt.Errorf("%d bytes requested, %d of %d in use: %w", size, a.used, a.budget, renderer.ErrOutOfMemory)
	}
	address := a.next
	a.next += math.AlignUp(size, PLACEMENT_ALIGNMENT)
	a.used += size
	return address, nil
}

func (a *addressSpace) insert(b *Buffer) {
	// Addresses grow monotonically, so appending keeps the slice sorted.
	a.live = append(a.live, b)
}

func (a *addressSpace) remove(b *Buffer) {
	i := sort.Search(len(a.live), func(i int) bool { return a.live[i].address >= b.address })
	if i < len(a.live) && a.live[i] == b {
		a.live = append(a.live[:i], a.live[i+1:]...)
	}
	a.used -= b.size
	a.freed = append(a.freed, addressRange{start: b.address, end: b.address + b.size, name: b.name})
}

// lookup returns the live buffer containing address and the offset into it.
func (a *addressSpace) lookup(address uint64) (*Buffer, uint64, bool) {
	i := sort.Search(len(a.live), func(i int) bool { return a.live[i].address+a.live[i].size > address })
	if i < len(a.live) && a.live[i].address <= address {
		b := a.live[i]
		return b, address - b.address, true
	}
	return nil, 0, false
}

// released returns the freed range containing address, if any.
func (a *addressSpace) released(address uint64) (addressRange, bool) {
	for _, r := range a.freed {
		if r.start <= address && address < r.end {
			return r, true
		}
	}
	return addressRange{}, false
}
