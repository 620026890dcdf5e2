package raytracing

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type compactionRequest struct {
	entry *BottomLevelEntry
	// Build the request was made for. Requests of replaced builds are skipped.
	build int
}

// promoteCompletedBuilds moves entries whose build retired out of Building.
func (m *Manager) promoteCompletedBuilds(completed uint64) {
	for _, e := range m.order {
		if e.state != COMPACTION_STATE_BUILDING || !e.isBuilt() || e.buildFence > completed {
			continue
		}
		if e.flags.Has(metadata.BUILD_FLAG_ALLOW_COMPACTION) {
			e.transition(COMPACTION_STATE_PENDING_COMPACTION)
			m.compactions.Enqueue(compactionRequest{entry: e, build: e.builds})
			continue
		}
		e.transition(COMPACTION_STATE_STATIC)
	}
}

// scheduleCompactions records up to MaxCompactionsPerFrame compacting
// copies. Only entries whose build already retired are ever queued.
func (m *Manager) scheduleCompactions(cl renderer.CommandList, fence uint64) error {
	scheduled := 0
	for !m.compactions.IsEmpty() {
		if m.options.MaxCompactionsPerFrame > 0 && scheduled >= m.options.MaxCompactionsPerFrame {
			break
		}
		req, _ := m.compactions.Dequeue()
		e := req.entry
		if e.state != COMPACTION_STATE_PENDING_COMPACTION || e.builds != req.build || m.entries[e.mesh.MeshID()] != e {
			continue
		}

		size, err := readCompactedSize(e)
		if err != nil {
			return err
		}
		dest, err := m.alloc.CreateResultBuffer(fmt.Sprintf("blas/%s/compacted", e.mesh.MeshID()), size)
		if err != nil {
			return err
		}
		cl.CopyAccelerationStructure(dest.Address(), e.result.Address(), metadata.COPY_MODE_COMPACT)
		cl.BarrierUAV(dest)

		e.compacted = dest
		e.compactedSize = size
		e.compactFence = fence
		// The copy reads the current structure.
		e.lastUse = max(e.lastUse, fence)
		e.transition(COMPACTION_STATE_COMPACTING)
		e.logger.Debug("compaction scheduled", "from", e.result.Size(), "to", dest.Size(), "fence", fence)
		scheduled++
	}
	return nil
}

// completeCompactions swaps entries whose compacting copy retired to the
// compacted buffer. The original stays on the retire list until every
// frame that referenced it retired.
func (m *Manager) completeCompactions(completed uint64) {
	for _, e := range m.order {
		if e.state != COMPACTION_STATE_COMPACTING || e.compactFence > completed {
			continue
		}
		original := e.result
		m.retire.Retire(original, max(e.lastUse, e.compactFence))
		m.retire.Retire(e.postbuild, e.buildFence)
		if original.Size() > e.compacted.Size() {
			m.savedBytes += original.Size() - e.compacted.Size()
		}

		e.logger.Info("compacted", "from", original.Size(), "to", e.compacted.Size())
		e.result = e.compacted
		e.resultSize = e.compactedSize
		e.compacted = nil
		e.postbuild = nil
		e.transition(COMPACTION_STATE_COMPACTED)
	}
}

func readCompactedSize(e *BottomLevelEntry) (uint64, error) {
	core.Assert(e.postbuild != nil, "entry %s has no post-build info buffer", e.ID)
	mapped, err := e.postbuild.Map()
	if err != nil {
		err = fmt.Errorf("failed to read compacted size of %s: %w", e.mesh.MeshID(), err)
		core.LogError(err.Error())
		return 0, err
	}
	defer e.postbuild.Unmap()

	size := binary.LittleEndian.Uint64(mapped[:metadata.RAYTRACING_POSTBUILD_INFO_SIZE])
	core.Assert(size > 0 && size <= e.resultSize, "entry %s: compacted size %d outside (0, %d]", e.ID, size, e.resultSize)
	return size, nil
}
