package testbed

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/scene"
)

// Seconds between two debris spawns.
const DEBRIS_INTERVAL = 0.25

// Debris alive at once. The oldest piece goes when a new one spawns.
const MAX_DEBRIS = 8

// First instance id handed to debris, above the ids of the scene file.
const DEBRIS_INSTANCE_ID_BASE = 1000

// TestGame keeps objects coming and going so bottom-level entries are
// referenced, released and compacted while the loop runs.
type TestGame struct {
	*engine.Game
}

type gameState struct {
	rng *rand.Rand
	// Instance ids of live debris, offset by DEBRIS_INSTANCE_ID_BASE.
	ids *core.IdentifierPool

	debrisMesh *scene.Mesh
	debris     []*scene.Object
	spawned    uint32
	sinceSpawn float64
	elapsed    float64
	sinceLog   float64
}

func NewTestGame(cfg *config.Config, seed uint64) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:   "Prism Testbed",
				Config: cfg,
			},
			State: &gameState{
				rng: rand.New(rand.NewSource(seed)),
				ids: core.NewIdentifierPool(MAX_DEBRIS),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing %s...", g.ApplicationConfig.Name)
	state := g.State.(*gameState)

	state.debrisMesh = scene.NewIcosphere("debris", 0.4, 1, true)
	return g.Scene.AddMesh(state.debrisMesh)
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime
	state.sinceSpawn += deltaTime
	state.sinceLog += deltaTime

	for state.sinceSpawn >= DEBRIS_INTERVAL {
		state.sinceSpawn -= DEBRIS_INTERVAL
		if err := g.spawn(state); err != nil {
			return err
		}
	}

	if state.sinceLog >= 1 {
		state.sinceLog = 0
		fps, frameTime := core.MetricsFrame()
		metrics := core.MetricsSnapshot()
		core.LogInfo(fmt.Sprintf("FPS: %5.1f(%4.1fms) objects=%d debris=%d as=%dB saved=%dB retiring=%d",
			fps, frameTime,
			g.Scene.ObjectCount(), len(state.debris),
			metrics.ASBytesAllocated, metrics.ASBytesSaved, metrics.ASBuffersRetiring))
	}
	return nil
}

func (g *TestGame) spawn(state *gameState) error {
	if len(state.debris) >= MAX_DEBRIS {
		oldest := state.debris[0]
		g.Scene.RemoveObject(oldest.Name)
		if err := state.ids.ReleaseID(oldest.InstanceID - DEBRIS_INSTANCE_ID_BASE); err != nil {
			return err
		}
		state.debris = state.debris[1:]
	}
	id, err := state.ids.AquireNewID(state)
	if err != nil {
		return err
	}

	jitter := func(spread float32) float32 {
		return (state.rng.Float32()*2 - 1) * spread
	}
	position := math.NewVec3(jitter(12), 0.5+state.rng.Float32()*4, jitter(12))
	name := fmt.Sprintf("debris.%d", state.spawned)
	o := scene.NewObject(name, state.debrisMesh, math.TransformFromPosition(position), DEBRIS_INSTANCE_ID_BASE+id)
	o.Spin = jitter(math.K_PI)
	if err := g.Scene.AddObject(o); err != nil {
		return err
	}
	state.spawned++
	state.debris = append(state.debris, o)
	return nil
}

// Spawned returns how many debris objects were created so far.
func (g *TestGame) Spawned() uint32 {
	return g.State.(*gameState).spawned
}

// Debris returns the debris objects alive, oldest first.
func (g *TestGame) Debris() []*scene.Object {
	return append([]*scene.Object(nil), g.State.(*gameState).debris...)
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	core.LogInfo("%s shutting down after %.2fs, %d debris spawned", g.ApplicationConfig.Name, state.elapsed, state.spawned)
	return nil
}
