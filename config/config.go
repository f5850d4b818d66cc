// Package config reads emulator settings from a yaml file.
package config

import (
	"os"

	"github.com/Joe-Degs/rvsim/emu"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config mirrors emu.Options plus the run settings of the command line.
// Zero values in a file keep the defaults.
type Config struct {
	MemorySize    uint     `yaml:"memory_size"`
	StackSize     uint     `yaml:"stack_size"`
	HeapSize      uint     `yaml:"heap_size"`
	MaxSteps      uint64   `yaml:"max_steps"`
	StartAtMain   *bool    `yaml:"start_at_main"` // pointer to tell unset from false
	CountFromMain bool     `yaml:"count_from_main"`
	LogLevel      string   `yaml:"log_level"`
	Hooks         []string `yaml:"hooks"`
	Runs          int      `yaml:"runs"`
	Sequential    bool     `yaml:"sequential"`
	Forwarding    bool     `yaml:"forwarding"`
}

// Default is the configuration used without a file.
func Default() Config {
	opts := emu.DefaultOptions()
	start := opts.StartAtMain
	return Config{
		MemorySize:  opts.MemorySize,
		StackSize:   opts.StackSize,
		HeapSize:    opts.HeapSize,
		StartAtMain: &start,
		LogLevel:    "info",
		Hooks:       opts.Hooks,
		Runs:        1,
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate checks the sizes fit together and the names are known.
func (c Config) Validate() error {
	switch {
	case c.MemorySize == 0:
		return errors.New("memory_size must be positive")
	case c.StackSize+c.HeapSize >= c.MemorySize:
		return errors.Errorf("stack_size %#x and heap_size %#x do not fit in memory_size %#x",
			c.StackSize, c.HeapSize, c.MemorySize)
	case c.Runs < 1:
		return errors.Errorf("runs must be at least 1, got %d", c.Runs)
	case c.Sequential && c.Forwarding:
		return errors.New("forwarding needs the pipelined timing model, not sequential")
	}
	if c.LogLevel != "" && hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return errors.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Options converts the configuration for emu.NewEmulator.
func (c Config) Options(logger hclog.Logger) emu.Options {
	opts := emu.Options{
		MemorySize:    c.MemorySize,
		StackSize:     c.StackSize,
		HeapSize:      c.HeapSize,
		MaxSteps:      c.MaxSteps,
		StartAtMain:   true,
		CountFromMain: c.CountFromMain,
		Hooks:         append([]string(nil), c.Hooks...),
		Timing:        emu.Timing{Sequential: c.Sequential, Forwarding: c.Forwarding},
		Logger:        logger,
	}
	if c.StartAtMain != nil {
		opts.StartAtMain = *c.StartAtMain
	}
	return opts
}
