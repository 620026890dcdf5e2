package raytracing

import (
	"sort"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
)

type retiredBuffer struct {
	buffer renderer.Buffer
	// The buffer is released once the frame fence reaches this value.
	fenceValue uint64
}

// RetireList defers buffer releases until the GPU finished every command
// list that could reference them. It is scanned once per frame.
type RetireList struct {
	alloc   *BufferAllocator
	pending []retiredBuffer
}

func NewRetireList(alloc *BufferAllocator) *RetireList {
	return &RetireList{alloc: alloc}
}

// Retire queues buf for release after fenceValue.
func (r *RetireList) Retire(buf renderer.Buffer, fenceValue uint64) {
	if buf == nil {
		return
	}
	core.LogDebug("retiring `%s` until fence %d", buf.Name(), fenceValue)
	r.pending = append(r.pending, retiredBuffer{buffer: buf, fenceValue: fenceValue})
}

// Collect releases every buffer whose fence value retired and returns how
// many were released.
func (r *RetireList) Collect(completed uint64) int {
	kept := r.pending[:0]
	released := 0
	for _, rb := range r.pending {
		if rb.fenceValue <= completed {
			r.alloc.Free(rb.buffer)
			released++
			continue
		}
		kept = append(kept, rb)
	}
	// Drop references held past the new length.
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = retiredBuffer{}
	}
	r.pending = kept
	return released
}

// Flush releases everything. Only valid once the queue is idle or the
// device is gone.
func (r *RetireList) Flush() int {
	n := len(r.pending)
	for _, rb := range r.pending {
		r.alloc.Free(rb.buffer)
	}
	r.pending = nil
	return n
}

// Drop forgets every pending buffer without releasing it through the
// allocator. Used after device loss, when the memory is gone anyway.
func (r *RetireList) Drop() {
	for _, rb := range r.pending {
		rb.buffer.Release()
	}
	r.pending = nil
}

func (r *RetireList) Len() int {
	return len(r.pending)
}

// IsPending reports whether buf is waiting for its fence.
func (r *RetireList) IsPending(buf renderer.Buffer) bool {
	for _, rb := range r.pending {
		if rb.buffer == buf {
			return true
		}
	}
	return false
}

type pooledScratch struct {
	buffer     renderer.Buffer
	fenceValue uint64
}

type freeScratch struct {
	buffer renderer.Buffer
	// Frame the buffer went back on the free list.
	idleSince uint64
}

// ScratchPool recycles scratch buffers once the builds that used them
// completed on the GPU.
type ScratchPool struct {
	alloc *BufferAllocator
	// Ready for reuse, sorted by size.
	free []freeScratch
	// Handed back, waiting for their fence.
	inFlight []pooledScratch
	created  int
}

func NewScratchPool(alloc *BufferAllocator) *ScratchPool {
	return &ScratchPool{alloc: alloc}
}

// Acquire returns the smallest free buffer of at least size bytes, or a new one.
func (p *ScratchPool) Acquire(size uint64) (renderer.Buffer, error) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].buffer.Size() >= size })
	if i < len(p.free) {
		buf := p.free[i].buffer
		p.free = append(p.free[:i], p.free[i+1:]...)
		return buf, nil
	}
	p.created++
	return p.alloc.CreateScratchBuffer("scratch", size)
}

// Release hands buf back; it becomes reusable once fenceValue retires.
func (p *ScratchPool) Release(buf renderer.Buffer, fenceValue uint64) {
	p.inFlight = append(p.inFlight, pooledScratch{buffer: buf, fenceValue: fenceValue})
}

// Reclaim moves buffers whose fence retired back to the free list, stamped
// with frame.
func (p *ScratchPool) Reclaim(completed, frame uint64) {
	kept := p.inFlight[:0]
	for _, ps := range p.inFlight {
		if ps.fenceValue <= completed {
			p.insertFree(freeScratch{buffer: ps.buffer, idleSince: frame})
			continue
		}
		kept = append(kept, ps)
	}
	for i := len(kept); i < len(p.inFlight); i++ {
		p.inFlight[i] = pooledScratch{}
	}
	p.inFlight = kept
}

func (p *ScratchPool) insertFree(fs freeScratch) {
	size := fs.buffer.Size()
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].buffer.Size() >= size })
	p.free = append(p.free, freeScratch{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = fs
}

// TrimIdle releases free buffers nobody acquired for maxIdle frames and
// returns how many went. A burst of builds does not pin its scratch memory
// for the rest of the session.
func (p *ScratchPool) TrimIdle(frame, maxIdle uint64) int {
	kept := p.free[:0]
	trimmed := 0
	for _, fs := range p.free {
		if frame-fs.idleSince >= maxIdle {
			p.alloc.Free(fs.buffer)
			trimmed++
			continue
		}
		kept = append(kept, fs)
	}
	for i := len(kept); i < len(p.free); i++ {
		p.free[i] = freeScratch{}
	}
	p.free = kept
	if trimmed > 0 {
		core.LogDebug("trimmed %d idle scratch buffers", trimmed)
	}
	return trimmed
}

// Trim releases the free buffers. In-flight ones are kept.
func (p *ScratchPool) Trim() {
	for _, fs := range p.free {
		p.alloc.Free(fs.buffer)
	}
	p.free = nil
}

// Flush releases every buffer. Only valid once the queue is idle.
func (p *ScratchPool) Flush() {
	p.Trim()
	for _, ps := range p.inFlight {
		p.alloc.Free(ps.buffer)
	}
	p.inFlight = nil
}

// Drop forgets every buffer after device loss.
func (p *ScratchPool) Drop() {
	for _, fs := range p.free {
		fs.buffer.Release()
	}
	for _, ps := range p.inFlight {
		ps.buffer.Release()
	}
	p.free = nil
	p.inFlight = nil
}

func (p *ScratchPool) FreeCount() int {
	return len(p.free)
}

func (p *ScratchPool) InFlightCount() int {
	return len(p.inFlight)
}
