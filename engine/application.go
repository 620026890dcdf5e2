package engine

import (
	"github.com/spaghettifunk/prism/engine/config"
)

type ApplicationConfig struct {
	// The application name used in logs.
	Name string
	// Engine configuration. Defaults are used when nil.
	Config *config.Config
}
