package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
	"github.com/spaghettifunk/prism/engine/renderer/software"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type LogConfig struct {
	Level string `toml:"level"`
}

type RaytracingConfig struct {
	FramesInFlight         uint32 `toml:"frames_in_flight"`
	MaxCompactionsPerFrame int    `toml:"max_compactions_per_frame"`
	Compaction             bool   `toml:"compaction"`
	TopLevelRefit          bool   `toml:"top_level_refit"`
	PreferFastTrace        bool   `toml:"prefer_fast_trace"`
}

type DeviceConfig struct {
	Name string `toml:"name"`
	// Zero means unbounded.
	MemoryBudgetMB uint64 `toml:"memory_budget_mb"`
	Validation     bool   `toml:"validation"`
	QueueDepth     int    `toml:"queue_depth"`
}

type RunConfig struct {
	// Number of frames to run. Zero runs until interrupted.
	Frames uint64 `toml:"frames"`
	// Scene description file. Empty loads the built-in scene.
	Scene string `toml:"scene"`
	Watch bool   `toml:"watch"`
	// PNG written with the instance-ID view on shutdown. Empty disables it.
	DebugImage  string `toml:"debug_image"`
	DebugWidth  int    `toml:"debug_width"`
	DebugHeight int    `toml:"debug_height"`
	// Removes the device while this frame is recorded, to exercise
	// recovery. Zero disables it.
	LoseDeviceAt uint64 `toml:"lose_device_at"`
}

// Config is the engine configuration file.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Raytracing RaytracingConfig `toml:"raytracing"`
	Device     DeviceConfig     `toml:"device"`
	Run        RunConfig        `toml:"run"`
}

func Default() *Config {
	options := raytracing.DefaultOptions()
	device := software.DefaultDeviceConfig()
	return &Config{
		Log: LogConfig{Level: "info"},
		Raytracing: RaytracingConfig{
			FramesInFlight:         2,
			MaxCompactionsPerFrame: options.MaxCompactionsPerFrame,
			Compaction:             options.Compaction,
			TopLevelRefit:          options.TopLevelRefit,
			PreferFastTrace:        options.PreferFastTrace,
		},
		Device: DeviceConfig{
			Name:           device.Name,
			MemoryBudgetMB: device.MemoryBudget >> 20,
			Validation:     device.Validation,
			QueueDepth:     device.QueueDepth,
		},
		Run: RunConfig{
			Frames:      120,
			DebugWidth:  160,
			DebugHeight: 90,
		},
	}
}

// Load reads a TOML file on top of the defaults. Keys missing from the
// file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if err := Parse(data, cfg); err != nil {
		err = fmt.Errorf("config `%s`: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level `%s`", ErrInvalidConfig, c.Log.Level)
	}
	if c.Raytracing.FramesInFlight < 2 || c.Raytracing.FramesInFlight > 3 {
		return fmt.Errorf("%w: frames_in_flight must be 2 or 3, got %d", ErrInvalidConfig, c.Raytracing.FramesInFlight)
	}
	if c.Raytracing.MaxCompactionsPerFrame < 0 {
		return fmt.Errorf("%w: max_compactions_per_frame is negative", ErrInvalidConfig)
	}
	if c.Device.QueueDepth <= 0 {
		return fmt.Errorf("%w: queue_depth must be positive", ErrInvalidConfig)
	}
	if c.Run.DebugImage != "" && (c.Run.DebugWidth <= 0 || c.Run.DebugHeight <= 0) {
		return fmt.Errorf("%w: debug image needs a positive size", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) LogLevel() core.LogLevel {
	level, err := core.ParseLogLevel(c.Log.Level)
	if err != nil {
		return core.InfoLevel
	}
	return level
}

func (c *Config) ManagerOptions() raytracing.Options {
	return raytracing.Options{
		MaxCompactionsPerFrame: c.Raytracing.MaxCompactionsPerFrame,
		Compaction:             c.Raytracing.Compaction,
		TopLevelRefit:          c.Raytracing.TopLevelRefit,
		PreferFastTrace:        c.Raytracing.PreferFastTrace,
	}
}

func (c *Config) SoftwareDevice() software.DeviceConfig {
	return software.DeviceConfig{
		Name:         c.Device.Name,
		MemoryBudget: c.Device.MemoryBudgetMB << 20,
		Validation:   c.Device.Validation,
		QueueDepth:   c.Device.QueueDepth,
	}
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
