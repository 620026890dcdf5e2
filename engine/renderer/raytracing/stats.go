package raytracing

import "sort"

// EntryStats describes one bottom-level entry.
type EntryStats struct {
	ID     string
	MeshID string
	State  CompactionState
	// Size of the structure instances currently reference.
	ResultSize uint64
	// Size of the first, uncompacted build.
	BuildSize uint64
	RefCount  int
	Builds    int
	Refits    int
	LastUse   uint64
}

// Savings is the number of bytes compaction gave back for the entry.
func (s EntryStats) Savings() uint64 {
	if s.State != COMPACTION_STATE_COMPACTED || s.BuildSize <= s.ResultSize {
		return 0
	}
	return s.BuildSize - s.ResultSize
}

type Stats struct {
	Frame             uint64
	Entries           []EntryStats
	AllocatedBytes    uint64
	SavedBytes        uint64
	RetirePending     int
	ScratchFree       int
	ScratchInFlight   int
	CompactionsQueued int
	TopLevelInstances uint32
	DeviceLost        bool
}

// CountByState returns how many entries are in state.
func (s Stats) CountByState(state CompactionState) int {
	n := 0
	for _, e := range s.Entries {
		if e.State == state {
			n++
		}
	}
	return n
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Frame:             m.frame,
		AllocatedBytes:    m.alloc.Allocated(),
		SavedBytes:        m.savedBytes,
		RetirePending:     m.retire.Len(),
		ScratchFree:       m.scratch.FreeCount(),
		ScratchInFlight:   m.scratch.InFlightCount(),
		CompactionsQueued: m.compactions.Len(),
		TopLevelInstances: m.tlas.InstanceCount(),
		DeviceLost:        m.deviceLost,
	}
	for _, e := range m.order {
		es := EntryStats{
			ID:        e.ID.String(),
			MeshID:    e.mesh.MeshID(),
			State:     e.state,
			BuildSize: e.buildSize,
			RefCount:  e.refCount,
			Builds:    e.builds,
			Refits:    e.refits,
			LastUse:   e.lastUse,
		}
		if e.result != nil {
			es.ResultSize = e.result.Size()
		}
		s.Entries = append(s.Entries, es)
	}
	sort.SliceStable(s.Entries, func(i, j int) bool { return s.Entries[i].MeshID < s.Entries[j].MeshID })
	return s
}
