// Package hiveconfig provides the node runtime's typed configuration: a
// fixed struct with sane defaults and an optional YAML loader, not a
// general-purpose configuration-parsing framework.
package hiveconfig

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Config is the complete set of tunables a hive node reads at startup.
type Config struct {
	Jobs struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"jobs"`
	Net struct {
		AutoInit bool `yaml:"autoInit"`
		Port     int  `yaml:"port"`
		TLS      struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"tls"`
		WS struct {
			Threads int `yaml:"threads"`
		} `yaml:"ws"`
	} `yaml:"net"`
}

// Default returns the node's out-of-the-box configuration.
func Default() Config {
	var c Config
	c.Jobs.Concurrency = 4
	c.Net.AutoInit = true
	c.Net.Port = 9000
	c.Net.TLS.Enabled = true
	c.Net.WS.Threads = 1
	return c
}

// Load reads a YAML document from r, starting from Default() so any key
// the document omits keeps its default value.
func Load(r io.Reader) (Config, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("hiveconfig: read config: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("hiveconfig: parse config: %w", err)
	}
	return cfg, nil
}
