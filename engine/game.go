package engine

import (
	"github.com/spaghettifunk/prism/engine/scene"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize runs.
	Scene        *scene.Scene
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnShutdown   Shutdown
}

type Initialize func() error

// Update runs once per frame, before the scene animates and the
// acceleration structures are updated.
type Update func(deltaTime float64) error
type Shutdown func() error
