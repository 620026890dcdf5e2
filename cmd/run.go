package cmd

import (
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/urfave/cli"
)

// Run the frame loop.
func Run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.Bool("watch") {
		cfg.Run.Watch = true
	}

	return runEngine(ctx, cfg, func(e *engine.Engine) error {
		core.LogInfo("ran %d frames, %d device losses", e.Frames(), e.DeviceLosses())
		return nil
	})
}
