// Package config loads the server's recognized options (§6.4) from a
// TOML file and applies environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"
)

// Config mirrors the options recognized by the server process.
//
// ConsistencyCheck and ClientAuth are loaded and saved but not consulted
// by the server: range registration always goes through the consistency
// tracker, and every non-low-level message is always auth-checked.
// ActivePolling and MetricsListenAddr only decide whether the statistics
// log loop runs; the poll loop is the same either way and no metrics
// listener is bound.
type Config struct {
	ListenAddr          string   `toml:"listen_addr"`
	Port                int      `toml:"port"`
	NvdimmMounts        []string `toml:"nvdimm_mounts,omitempty"`
	StorageResourceFile string   `toml:"storage_resource_file,omitempty"`
	ConsistencyCheck    bool     `toml:"consistency_check"`
	ActivePolling       bool     `toml:"active_polling"`
	ClientAuth          bool     `toml:"client_auth"`
	VerboseCategories   []string `toml:"verbose_categories,omitempty"`
	MetricsListenAddr   string   `toml:"metrics_listen_addr,omitempty"`
	AbortOnFatal        bool     `toml:"abort_on_fatal"`
}

// Default returns the zero-configuration server defaults.
func Default() *Config {
	return &Config{
		ListenAddr:       constants.DefaultListenAddr,
		Port:             0,
		ConsistencyCheck: true,
		ActivePolling:    false,
		ClientAuth:       true,
		AbortOnFatal:     true,
	}
}

// Load reads cfg from a TOML file at path. A missing file is not an
// error: it returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(cfg *Config, path string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv applies IOC_DEBUG and IOC_ABORT overrides on top of cfg,
// matching §6.4's environment section.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("IOC_DEBUG"); ok {
		if v == "" {
			c.VerboseCategories = nil
		} else {
			c.VerboseCategories = strings.Split(v, ",")
		}
	}
	if v, ok := os.LookupEnv("IOC_ABORT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AbortOnFatal = b
		}
	}
}

// VerboseAll reports whether every category is enabled (`all` or `*`).
func (c *Config) VerboseAll() bool {
	for _, cat := range c.VerboseCategories {
		if cat == "all" || cat == "*" {
			return true
		}
	}
	return false
}

// VerboseEnabled reports whether a specific category is active.
func (c *Config) VerboseEnabled(category string) bool {
	if c.VerboseAll() {
		return true
	}
	for _, cat := range c.VerboseCategories {
		if cat == category {
			return true
		}
	}
	return false
}
