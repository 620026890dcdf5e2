package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/testbed"
	"github.com/urfave/cli"
)

// loadConfig reads the -config file, or the defaults, and applies the flags
// shared by every frame loop command.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.GlobalString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	// Without a file the command's frame count wins over the default.
	if ctx.IsSet("frames") || ctx.GlobalString("config") == "" {
		cfg.Run.Frames = ctx.Uint64("frames")
	}
	if ctx.IsSet("scene") {
		cfg.Run.Scene = ctx.String("scene")
	}
	if ctx.IsSet("lose-device-at") {
		cfg.Run.LoseDeviceAt = ctx.Uint64("lose-device-at")
	}
	setupLogging(ctx, cfg)
	return cfg, cfg.Validate()
}

/**
 * @brief Initializes an engine running the testbed on cfg and runs it until
 * the frame limit or a termination signal. inspect sees the engine after
 * the last frame, before it shuts down.
 */
func runEngine(ctx *cli.Context, cfg *config.Config, inspect func(*engine.Engine) error) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			core.LogInfo("stopping on %s", sig)
			cancel()
		case <-runCtx.Done():
		}
	}()

	tb := testbed.NewTestGame(cfg, ctx.Uint64("seed"))
	e, err := engine.New(tb.Game)
	if err != nil {
		return err
	}
	// Shutdown needs a live context even after a signal.
	shutdownCtx := context.Background()
	if err := e.Initialize(runCtx); err != nil {
		_ = e.Shutdown(shutdownCtx)
		return err
	}
	if err := e.Run(runCtx); err != nil {
		_ = e.Shutdown(shutdownCtx)
		return err
	}
	if inspect != nil {
		if err := inspect(e); err != nil {
			_ = e.Shutdown(shutdownCtx)
			return err
		}
	}
	return e.Shutdown(shutdownCtx)
}

// Flags shared by every frame loop command.
func EngineFlags(frames uint64) []cli.Flag {
	return []cli.Flag{
		cli.Uint64Flag{
			Name:  "frames, n",
			Value: frames,
			Usage: "number of frames to run, 0 runs until interrupted",
		},
		cli.StringFlag{
			Name:  "scene, s",
			Usage: "scene description file; the built-in scene is used when empty",
		},
		cli.Uint64Flag{
			Name:  "seed",
			Value: 1,
			Usage: "seed of the testbed debris spawner",
		},
		cli.Uint64Flag{
			Name:  "lose-device-at",
			Usage: "remove the device while this frame is recorded",
		},
	}
}
