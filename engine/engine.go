package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
	"github.com/spaghettifunk/prism/engine/renderer/software"
	"github.com/spaghettifunk/prism/engine/renderer/views"
	"github.com/spaghettifunk/prism/engine/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

// Device losses survived before Run gives up.
const MAX_DEVICE_RECOVERIES = 3

// Upscale factor of the debug image written at shutdown.
const DEBUG_IMAGE_SCALE = 4

var ErrTooManyDeviceLosses = errors.New("device lost too many times")

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	isRunning    atomic.Bool

	bus     *core.EventBus
	device  *software.Device
	gpu     *renderer.GPUContext
	manager *raytracing.Manager
	scene   *scene.Scene
	watcher *scene.Watcher
	camera  *components.Camera
	view    *views.RenderViewInstance

	clock *core.Clock

	// Frames submitted across every device the engine ran on.
	frames uint64
	// Handle returned by the last recorded frame.
	lastHandle   raytracing.TopLevelHandle
	deviceLosses int
	// Set once the device for the configured loss frame was removed.
	lossInjected bool
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("engine requires a game with an application config")
	}
	cfg := g.ApplicationConfig.Config
	if cfg == nil {
		cfg = config.Default()
		g.ApplicationConfig.Config = cfg
	}
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	bus := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		bus:          bus,
		scene:        scene.New(bus),
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	core.Assert(e.currentStage == EngineStageUninitialized, "engine initialized twice")
	e.currentStage = EngineStageInitializing

	core.SetLogLevel(e.config.LogLevel())
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_SCENE_RELOADED, e, e.onEvent)

	if err := e.createDevice(); err != nil {
		return err
	}
	e.manager = raytracing.NewManager(e.gpu, e.config.ManagerOptions())
	e.manager.RegisterEvents(e.bus)

	if err := e.scene.Bind(e.gpu); err != nil {
		return err
	}
	if path := e.config.Run.Scene; path != "" {
		if err := e.scene.Reload(path); err != nil {
			return err
		}
		if e.config.Run.Watch {
			w, err := scene.NewWatcher(path)
			if err != nil {
				return fmt.Errorf("failed to watch `%s`: %w", path, err)
			}
			e.watcher = w
		}
	} else if err := e.scene.Apply(scene.DefaultDescription()); err != nil {
		return err
	}

	if e.config.Run.DebugImage != "" {
		e.camera = components.NewCamera()
		e.camera.SetPosition(math.NewVec3(0, 30, 20))
		e.camera.SetEulerRotation(math.NewVec3(math.DegToRad(-60), 0, 0))
		e.createView()
	}

	e.gameInstance.Scene = e.scene
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized: %d meshes, %d objects", e.scene.MeshCount(), e.scene.ObjectCount())
	return nil
}

func (e *Engine) createDevice() error {
	device, err := software.NewDevice(e.config.SoftwareDevice())
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	gpu, err := renderer.NewGPUContext(device, e.config.Raytracing.FramesInFlight)
	if err != nil {
		_ = device.Destroy()
		return err
	}
	e.device = device
	e.gpu = gpu
	return nil
}

func (e *Engine) createView() {
	if e.camera == nil {
		return
	}
	e.view = views.NewRenderViewInstance(e.config.Run.DebugWidth, e.config.Run.DebugHeight, e.gpu.FramesInFlight(), e.camera)
}

/**
 * @brief Runs frames until the configured frame count is reached, ctx is
 * cancelled or an application quit event is fired. A lost device is
 * recreated and the loop continues.
 */
func (e *Engine) Run(ctx context.Context) error {
	core.Assert(e.currentStage == EngineStageInitialized, "engine must be initialized before Run")
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()

	limit := e.config.Run.Frames
	for e.isRunning.Load() {
		if limit > 0 && e.frames >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		delta := e.clock.Tick()

		err := e.frame(ctx, delta)
		if err == nil {
			e.frames++
			core.MetricsUpdate(delta)
			continue
		}
		if !errors.Is(err, renderer.ErrDeviceLost) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			e.isRunning.Store(false)
			return err
		}
		if err := e.recoverDevice(ctx, err); err != nil {
			e.isRunning.Store(false)
			return err
		}
	}
	e.isRunning.Store(false)
	return nil
}

// frame records and submits one frame.
func (e *Engine) frame(ctx context.Context, delta float64) error {
	if e.watcher != nil {
		select {
		case path := <-e.watcher.Reloads():
			// A broken file keeps the previous scene.
			if err := e.scene.Reload(path); err != nil {
				core.LogError("scene reload failed: %s", err.Error())
			}
		default:
		}
	}

	cl, err := e.gpu.BeginFrame(ctx)
	if err != nil {
		return err
	}
	if err := e.record(ctx, cl, delta); err != nil {
		// The list is submitted anyway so the context leaves the recording state.
		if _, endErr := e.gpu.EndFrame(); endErr != nil {
			core.LogDebug("end frame after failure: %s", endErr.Error())
		}
		return err
	}
	if at := e.config.Run.LoseDeviceAt; at > 0 && !e.lossInjected && e.frames == at {
		e.lossInjected = true
		e.device.InjectDeviceRemoved(fmt.Sprintf("injected at frame %d", at))
	}
	if _, err := e.gpu.EndFrame(); err != nil {
		return err
	}

	stats := e.manager.Stats()
	core.MetricsAccelerationStructures(stats.AllocatedBytes, stats.SavedBytes, stats.RetirePending, stats.CompactionsQueued)
	return nil
}

func (e *Engine) record(ctx context.Context, cl renderer.CommandList, delta float64) error {
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update failed: %w", err)
		}
	}
	if err := e.scene.Update(delta); err != nil {
		return err
	}
	handle, err := e.manager.BuildOrUpdate(ctx, e.scene.Instances())
	if err != nil {
		return err
	}
	e.lastHandle = handle
	if e.view != nil {
		e.view.OnRender(cl, handle.Address, e.gpu.FrameSlot(), e.gpu.CurrentFenceValue())
	}
	return nil
}

/**
 * @brief Replaces the lost device: everything bound to it is dropped, a new
 * device is created, mesh geometry is uploaded again and every bottom-level
 * structure is rebuilt before the next frame.
 */
func (e *Engine) recoverDevice(ctx context.Context, cause error) error {
	e.deviceLosses++
	core.LogWarn("device lost (%d/%d): %s", e.deviceLosses, MAX_DEVICE_RECOVERIES, cause.Error())
	if e.deviceLosses > MAX_DEVICE_RECOVERIES {
		return fmt.Errorf("%w: %w", ErrTooManyDeviceLosses, cause)
	}

	e.bus.Fire(core.EVENT_CODE_DEVICE_LOST, e, cause)
	e.scene.DeviceLost()
	if err := e.device.Destroy(); err != nil {
		core.LogWarn("destroying the lost device: %s", err.Error())
	}

	if err := e.createDevice(); err != nil {
		return err
	}
	if err := e.scene.Bind(e.gpu); err != nil {
		return err
	}
	if err := e.manager.RecreateAll(ctx, e.gpu); err != nil {
		return err
	}
	e.createView()
	core.LogInfo("recovered on device `%s`", e.device.Name())
	return nil
}

// Stop ends Run after the frame in progress. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown(ctx context.Context) error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.gpu != nil && e.manager != nil && !e.manager.IsDeviceLost() {
		if err := e.gpu.WaitIdle(ctx); err != nil {
			errs = append(errs, err)
		} else if e.view != nil {
			if err := e.view.WritePNG(e.config.Run.DebugImage, e.gpu.CompletedFenceValue(), DEBUG_IMAGE_SCALE); err != nil {
				core.LogWarn("debug image not written: %s", err.Error())
			}
		}
	}
	if e.manager != nil {
		if err := e.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		e.manager.UnregisterEvents(e.bus)
	}
	e.scene.Shutdown()
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	e.bus.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.bus.Unregister(core.EVENT_CODE_SCENE_RELOADED, e)
	if err := e.bus.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.device != nil {
		if err := e.device.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	case core.EVENT_CODE_SCENE_RELOADED:
		core.LogInfo("scene reloaded from `%v`: %d objects", data.Data, e.scene.ObjectCount())
	}
	return false
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Bus() *core.EventBus {
	return e.bus
}

func (e *Engine) Scene() *scene.Scene {
	return e.scene
}

func (e *Engine) Manager() *raytracing.Manager {
	return e.manager
}

func (e *Engine) GPU() *renderer.GPUContext {
	return e.gpu
}

func (e *Engine) Device() *software.Device {
	return e.device
}

func (e *Engine) View() *views.RenderViewInstance {
	return e.view
}

// LastHandle is the top-level structure of the last recorded frame.
func (e *Engine) LastHandle() raytracing.TopLevelHandle {
	return e.lastHandle
}

func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) DeviceLosses() int {
	return e.deviceLosses
}
