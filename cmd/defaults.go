package cmd

import (
	"os"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/urfave/cli"
)

// Print the default configuration as TOML.
func DefaultConfig(ctx *cli.Context) error {
	data, err := config.Default().Encode()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

// Print the built-in scene as TOML, a starting point for scene files.
func DefaultScene(ctx *cli.Context) error {
	data, err := scene.DefaultDescription().Encode()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
