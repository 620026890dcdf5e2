package raytracing

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
)

func TestCompactionTransitions(t *testing.T) {
	states := []CompactionState{
		COMPACTION_STATE_BUILDING,
		COMPACTION_STATE_PENDING_COMPACTION,
		COMPACTION_STATE_COMPACTING,
		COMPACTION_STATE_COMPACTED,
		COMPACTION_STATE_STATIC,
	}
	legal := map[[2]CompactionState]bool{
		{COMPACTION_STATE_BUILDING, COMPACTION_STATE_PENDING_COMPACTION}:   true,
		{COMPACTION_STATE_BUILDING, COMPACTION_STATE_STATIC}:               true,
		{COMPACTION_STATE_PENDING_COMPACTION, COMPACTION_STATE_COMPACTING}: true,
		{COMPACTION_STATE_PENDING_COMPACTION, COMPACTION_STATE_BUILDING}:   true,
		{COMPACTION_STATE_COMPACTING, COMPACTION_STATE_COMPACTED}:          true,
		{COMPACTION_STATE_COMPACTING, COMPACTION_STATE_BUILDING}:           true,
		{COMPACTION_STATE_COMPACTED, COMPACTION_STATE_BUILDING}:            true,
		{COMPACTION_STATE_STATIC, COMPACTION_STATE_BUILDING}:               true,
	}
	for _, from := range states {
		for _, to := range states {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				assert.Equal(t, legal[[2]CompactionState{from, to}], from.CanTransitionTo(to))
			})
		}
	}
	assert.Equal(t, "CompactionState(42)", CompactionState(42).String())
}

func TestIllegalTransitionPanics(t *testing.T) {
	e := newBottomLevelEntry(&testMesh{id: "m"})
	assert.NotPanics(t, func() { e.transition(COMPACTION_STATE_BUILDING) }, "same state is a no-op")
	assert.Panics(t, func() { e.transition(COMPACTION_STATE_COMPACTED) })
}

func TestBuildFlags(t *testing.T) {
	options := DefaultOptions()
	assert.Equal(t, metadata.BUILD_FLAG_PREFER_FAST_TRACE|metadata.BUILD_FLAG_ALLOW_COMPACTION, buildFlags(StaticPolicy(), options))
	assert.Equal(t, metadata.BUILD_FLAG_PREFER_FAST_BUILD|metadata.BUILD_FLAG_ALLOW_UPDATE, buildFlags(DeformingPolicy(), options))

	options.Compaction = false
	options.PreferFastTrace = false
	assert.Equal(t, metadata.BUILD_FLAG_PREFER_FAST_BUILD, buildFlags(StaticPolicy(), options))
	// Deforming meshes never compact.
	assert.False(t, buildFlags(BuildPolicy{Deforming: true, Compaction: true}, DefaultOptions()).Has(metadata.BUILD_FLAG_ALLOW_COMPACTION))
}
