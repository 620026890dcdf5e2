package testbed

import (
	"context"
	"testing"
	"time"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebrisComesAndGoes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Run.Frames = 6
	tb := NewTestGame(cfg, 7)
	e, err := engine.New(tb.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(ctx))
	base := e.Scene().ObjectCount()

	// Ten spawn intervals at once.
	require.NoError(t, tb.Update(DEBRIS_INTERVAL*10+DEBRIS_INTERVAL/2))
	assert.Equal(t, uint32(10), tb.Spawned())
	debris := tb.Debris()
	require.Len(t, debris, MAX_DEBRIS)
	assert.Equal(t, "debris.2", debris[0].Name, "the oldest pieces were removed")
	assert.Equal(t, base+MAX_DEBRIS, e.Scene().ObjectCount())

	ids := make(map[uint32]bool)
	for _, o := range debris {
		assert.GreaterOrEqual(t, o.InstanceID, uint32(DEBRIS_INSTANCE_ID_BASE))
		assert.Less(t, o.InstanceID, uint32(DEBRIS_INSTANCE_ID_BASE+MAX_DEBRIS), "released ids are reused")
		ids[o.InstanceID] = true
	}
	assert.Len(t, ids, MAX_DEBRIS)

	require.NoError(t, e.Run(ctx))
	entry, ok := e.Manager().Entry(debris[0].Mesh.MeshID())
	require.True(t, ok)
	assert.NotZero(t, entry.Address())
	assert.Equal(t, uint32(e.Scene().ObjectCount()), e.LastHandle().InstanceCount)

	require.NoError(t, e.Shutdown(ctx))
}
