// Package config loads the demo daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Listener describes one TCP listener the daemon should open, and which
// registered protocol module should service connections accepted on it.
type Listener struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	Protocol string `yaml:"protocol"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	// Workers is the number of worker goroutines running the
	// poll-dispatch-reap loop.
	Workers int `yaml:"workers"`
	// BufferSize is loaded and carried in the config only; the read path
	// caps each allocation at the constant dcb.MaxBufferSize and does not
	// read this value.
	BufferSize int `yaml:"buffer_size"`
	// Listeners are the sockets the daemon accepts connections on.
	Listeners []Listener `yaml:"listeners"`
}

// Default returns a minimal, runnable configuration.
func Default() *Config {
	return &Config{
		Workers:    4,
		BufferSize: 4096,
		Listeners: []Listener{
			{Name: "echo", Addr: "127.0.0.1:4406", Protocol: "echo"},
		},
	}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
