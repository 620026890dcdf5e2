package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(frames uint64) *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Run.Frames = frames
	return cfg
}

func startEngine(t *testing.T, g *Game) (*Engine, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)

	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(ctx))
	assert.Equal(t, EngineStageInitialized, e.Stage())
	return e, ctx
}

func TestEngineRunsFrames(t *testing.T) {
	cfg := testConfig(12)
	cfg.Run.DebugImage = filepath.Join(t.TempDir(), "instances.png")
	cfg.Run.DebugWidth, cfg.Run.DebugHeight = 32, 18

	updates := 0
	g := &Game{
		ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg},
		FnUpdate: func(float64) error {
			updates++
			return nil
		},
	}
	e, ctx := startEngine(t, g)
	assert.Same(t, e.Scene(), g.Scene)

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(12), e.Frames())
	assert.Equal(t, 12, updates)
	assert.Equal(t, uint32(5), e.LastHandle().InstanceCount)

	stats := e.Manager().Stats()
	assert.Len(t, stats.Entries, 4)
	assert.Equal(t, 3, stats.CountByState(raytracing.COMPACTION_STATE_COMPACTED), "rigid meshes compact within a few frames")
	assert.Positive(t, stats.SavedBytes)
	assert.Equal(t, stats.AllocatedBytes, core.MetricsSnapshot().ASBytesAllocated)

	device := e.Device()
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, EngineStageShutdown, e.Stage())
	assert.Empty(t, device.Validator().Messages())
	assert.Zero(t, device.LiveBuffers())

	info, err := os.Stat(cfg.Run.DebugImage)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	require.NoError(t, e.Shutdown(ctx), "shutdown is idempotent")
}

func TestEngineRecoversFromDeviceLoss(t *testing.T) {
	cfg := testConfig(12)
	cfg.Run.LoseDeviceAt = 5
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg}}
	e, ctx := startEngine(t, g)
	first := e.Device()

	lost := 0
	e.Bus().Register(core.EVENT_CODE_DEVICE_LOST, t, func(core.SystemEventCode, interface{}, interface{}, core.EventContext) bool {
		lost++
		return false
	})

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, 1, e.DeviceLosses())
	assert.Equal(t, 1, lost)
	assert.Equal(t, uint64(12), e.Frames(), "the lost frame is not counted")
	assert.NotSame(t, first, e.Device())
	assert.Error(t, first.RemovedReason())

	stats := e.Manager().Stats()
	assert.False(t, stats.DeviceLost)
	assert.Len(t, stats.Entries, 4, "entries survive the device")
	assert.Equal(t, uint32(5), e.LastHandle().InstanceCount)

	device := e.Device()
	require.NoError(t, e.Shutdown(ctx))
	assert.Empty(t, device.Validator().Messages())
	assert.Zero(t, device.LiveBuffers())
}

func TestEngineQuitEvent(t *testing.T) {
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: testConfig(0)}}
	e, ctx := startEngine(t, g)

	frames := 0
	g.FnUpdate = func(float64) error {
		frames++
		if frames == 3 {
			e.Bus().Fire(core.EVENT_CODE_APPLICATION_QUIT, g, nil)
		}
		return nil
	}
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(3), e.Frames())
	require.NoError(t, e.Shutdown(ctx))
}

func TestEngineStopsOnContext(t *testing.T) {
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: testConfig(0)}}
	e, ctx := startEngine(t, g)

	runCtx, cancel := context.WithCancel(ctx)
	g.FnUpdate = func(float64) error {
		if e.Frames() == 4 {
			cancel()
		}
		return nil
	}
	require.NoError(t, e.Run(runCtx))
	assert.LessOrEqual(t, e.Frames(), uint64(5))
	require.NoError(t, e.Shutdown(ctx))
}

func TestEngineLoadsSceneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[mesh]]
name = "ground"
kind = "plane"
size = [10.0, 0.0, 10.0]

[[object]]
name = "ground"
mesh = "ground"
`), 0o644))

	cfg := testConfig(3)
	cfg.Run.Scene = path
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg}}
	e, ctx := startEngine(t, g)
	assert.Equal(t, 1, e.Scene().ObjectCount())

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint32(1), e.LastHandle().InstanceCount)
	require.NoError(t, e.Shutdown(ctx))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(1)
	cfg.Raytracing.FramesInFlight = 7
	_, err := New(&Game{ApplicationConfig: &ApplicationConfig{Config: cfg}})
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = New(&Game{})
	require.Error(t, err)
}
