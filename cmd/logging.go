package cmd

import (
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/urfave/cli"
)

// setupLogging raises the log level of cfg when -v or -vv is set.
func setupLogging(ctx *cli.Context, cfg *config.Config) {
	if ctx.GlobalBool("v") {
		cfg.Log.Level = "info"
	}

	if ctx.GlobalBool("vv") {
		cfg.Log.Level = "debug"
	}
	core.SetLogLevel(cfg.LogLevel())
}
