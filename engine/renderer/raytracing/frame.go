package raytracing

import (
	"fmt"
	"slices"

	"github.com/spaghettifunk/prism/engine/renderer"
)

// frameResources is the top-level structure of one frame-in-flight slot.
// The GPU context waits for a slot's fence before handing it out again, so
// its buffers are rewritten in place.
type frameResources struct {
	slot      uint32
	result    renderer.Buffer
	scratch   renderer.Buffer
	instances renderer.Buffer

	// Bottom-level address per instance index of the last build.
	addresses []uint64
	// Manager frame the slot was last built in.
	frame uint64
	// Fence value of the last frame that built or read the slot's buffers.
	lastUse uint64
	valid   bool
}

// TopLevelHandle is what ray dispatches bind for one frame.
type TopLevelHandle struct {
	Address       uint64
	InstanceCount uint32
	Slot          uint32
	// The structure was refit from the previous frame's instead of rebuilt.
	Refit bool
	// Fence value of the frame that builds it.
	FenceValue uint64
}

// ensure grows buf to at least size. The previous buffer is retired.
func (m *Manager) ensure(buf renderer.Buffer, size uint64, fence uint64, create func(name string, size uint64) (renderer.Buffer, error), name string) (renderer.Buffer, error) {
	if buf != nil && buf.Size() >= size {
		return buf, nil
	}
	m.retire.Retire(buf, fence)
	return create(name, size)
}

func (m *Manager) buildTopLevel(fr *frameResources, fence uint64) (TopLevelHandle, error) {
	cl := m.gpu.CommandList()
	scratchSize, resultSize, descsSize := m.tlas.ComputeBufferSizes(m.gpu.Device)
	scratchSize = max(scratchSize, m.tlas.UpdateScratchSize())

	var err error
	if fr.result, err = m.ensure(fr.result, resultSize, fr.lastUse, m.alloc.CreateResultBuffer, fmt.Sprintf("tlas/%d", fr.slot)); err != nil {
		fr.valid = false
		return TopLevelHandle{}, err
	}
	if fr.scratch, err = m.ensure(fr.scratch, scratchSize, fr.lastUse, m.alloc.CreateScratchBuffer, fmt.Sprintf("tlas/%d/scratch", fr.slot)); err != nil {
		fr.valid = false
		return TopLevelHandle{}, err
	}
	if descsSize > 0 {
		if fr.instances, err = m.ensure(fr.instances, descsSize, fr.lastUse, m.alloc.CreateInstanceBuffer, fmt.Sprintf("tlas/%d/instances", fr.slot)); err != nil {
			fr.valid = false
			return TopLevelHandle{}, err
		}
	}

	addresses := fr.addresses[:0]
	for _, inst := range m.tlas.Instances() {
		addresses = append(addresses, inst.AccelerationStructure)
	}

	source := m.refitSource(fr, addresses)
	if source != nil {
		// The refit reads the previous slot's structure during this frame.
		m.frames[m.gpu.PreviousFrameSlot()].lastUse = fence
	}
	if err := m.tlas.Generate(cl, fr.scratch, fr.result, fr.instances, source); err != nil {
		fr.valid = false
		return TopLevelHandle{}, err
	}

	fr.addresses = addresses
	fr.frame = m.frame
	fr.lastUse = fence
	fr.valid = true
	return TopLevelHandle{
		Address:       fr.result.Address(),
		InstanceCount: m.tlas.InstanceCount(),
		Slot:          fr.slot,
		Refit:         source != nil,
		FenceValue:    fence,
	}, nil
}

// refitSource returns the previous frame's structure when the instance set
// is unchanged, so this frame refits it instead of rebuilding.
func (m *Manager) refitSource(fr *frameResources, addresses []uint64) renderer.Buffer {
	if !m.options.TopLevelRefit || len(addresses) == 0 {
		return nil
	}
	prev := m.frames[m.gpu.PreviousFrameSlot()]
	if prev == fr || !prev.valid || prev.frame != m.frame-1 {
		return nil
	}
	if !slices.Equal(prev.addresses, addresses) {
		return nil
	}
	return prev.result
}

func (m *Manager) releaseFrames(free func(renderer.Buffer)) {
	for _, fr := range m.frames {
		for _, buf := range []renderer.Buffer{fr.result, fr.scratch, fr.instances} {
			if buf != nil {
				free(buf)
			}
		}
	}
	m.frames = newFrameResources(m.gpu.FramesInFlight())
}

func newFrameResources(count uint32) []*frameResources {
	frames := make([]*frameResources, count)
	for i := range frames {
		frames[i] = &frameResources{slot: uint32(i)}
	}
	return frames
}
