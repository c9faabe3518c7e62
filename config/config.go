// Package config loads the boot configuration cmd/rvkernel reads before
// building the init task: how much RAM to simulate, which ELF image to
// run, and the argv/env it starts with. Grounded on dh-cli's
// internal/config (Load/Save over a TOML file via go-toml/v2), adapted
// here to a single boot-time document instead of a persistent CLI
// preference store.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the boot document read from the file passed via --config to
// cmd/rvkernel.
type Config struct {
	RAMBytes int      `toml:"ram_bytes,omitempty"`
	InitELF  string   `toml:"init_elf,omitempty"`
	Argv     []string `toml:"argv,omitempty"`
	Env      []string `toml:"env,omitempty"`
}

const defaultRAMBytes = 64 * 1024 * 1024

// Default returns the configuration cmd/rvkernel falls back to when no
// config file is given: 64MiB of RAM and no init image (the caller must
// supply one, e.g. via --init or go:embed).
func Default() *Config {
	return &Config{RAMBytes: defaultRAMBytes, Argv: []string{"init"}}
}

// Load reads and parses path. A missing file is not an error: it
// returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.RAMBytes <= 0 {
		cfg.RAMBytes = defaultRAMBytes
	}
	if len(cfg.Argv) == 0 {
		cfg.Argv = []string{"init"}
	}
	return cfg, nil
}

// Save writes cfg back to path, the shape a `rvkernel config init`
// subcommand would use to scaffold a starting file.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
