/*
Runs the acceleration-structure frame loop on the software device.
*/
package main

import (
	"os"

	"github.com/spaghettifunk/prism/cmd"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "prism"
	app.Usage = "build, compact and retire raytracing acceleration structures"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "TOML configuration file; defaults are used for missing keys",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "run the frame loop",
			Description: `
Build a scene, then record frames that update every bottom-level structure,
schedule compactions and rebuild the top-level structure. The testbed keeps
spawning and removing debris so entries come and go while the loop runs.`,
			Flags: append(cmd.EngineFlags(0), cli.BoolFlag{
				Name:  "watch, w",
				Usage: "reload the scene file when it changes",
			}),
			Action: cmd.Run,
		},
		{
			Name:   "stats",
			Usage:  "run a number of frames and print every bottom-level entry",
			Flags:  cmd.EngineFlags(120),
			Action: cmd.Stats,
		},
		{
			Name:  "trace",
			Usage: "trace primary rays and write an image coloured by instance",
			Flags: append(cmd.EngineFlags(30),
				cli.IntFlag{
					Name:  "width",
					Value: 320,
					Usage: "image width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 180,
					Usage: "image height",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "instances.png",
					Usage: "image filename",
				},
			),
			Action: cmd.Trace,
		},
		{
			Name:  "defaults",
			Usage: "print default files",
			Subcommands: []cli.Command{
				{
					Name:   "config",
					Usage:  "print the default configuration",
					Action: cmd.DefaultConfig,
				},
				{
					Name:   "scene",
					Usage:  "print the built-in scene description",
					Action: cmd.DefaultScene,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		core.LogFatal("%s", err)
	}
}
