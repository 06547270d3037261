// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config holds the daemon configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the silod configuration, loaded from YAML with flag overrides
// applied on top.
type Config struct {
	// SiloRoot is the directory holding the managed silos.
	SiloRoot string `yaml:"siloRoot"`
	// BusAddress is the D-Bus endpoint; empty means the system bus.
	BusAddress string `yaml:"busAddress"`
	// LinkAddress is the Varlink listen address.
	LinkAddress string `yaml:"linkAddress"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SiloRoot:    "/var/lib/silod/silos",
		LinkAddress: "unix:/run/silod/io.silod",
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.SiloRoot == "" {
		return nil, fmt.Errorf("siloRoot must not be empty")
	}

	return cfg, nil
}
