//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the frame loop on the built-in scene.
func (Run) Engine() error {
	mg.Deps(Build.Engine)
	fmt.Println("Run engine...")
	if _, err := executeCmd("bin/prism", withArgs("-v", "run", "--frames", "600"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the frame loop and removes the device halfway through.
func (Run) DeviceLost() error {
	mg.Deps(Build.Engine)
	_, err := executeCmd("bin/prism", withArgs("-v", "stats", "--frames", "240", "--lose-device-at", "120"), withStream())
	return err
}

// Writes instances.png, the scene coloured by instance.
func (Run) Trace() error {
	mg.Deps(Build.Engine)
	_, err := executeCmd("bin/prism", withArgs("trace", "-o", "instances.png"), withDir("."), withStream())
	return err
}
