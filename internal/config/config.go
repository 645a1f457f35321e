// Package config loads the hosted kernel's small TOML configuration file
// and applies the one documented environment override. It has no
// influence on pkg/kernel's semantics, which always take an explicit,
// already-resolved Config value.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultListenAddr is the hosted transport's default bind address.
const DefaultListenAddr = "localhost:9687"

// Config is the hosted kernel's resolved runtime configuration.
type Config struct {
	ListenAddr     string `toml:"listen_addr"`
	LockDir        string `toml:"lock_dir"`
	BootDescriptor string `toml:"boot_descriptor"`
}

// Default returns the configuration used when no file is present and no
// environment override applies.
func Default() Config {
	lockDir := os.TempDir()
	if dir, err := os.UserCacheDir(); err == nil {
		lockDir = dir
	}
	return Config{
		ListenAddr: DefaultListenAddr,
		LockDir:    lockDir,
	}
}

// Load reads path as TOML, if it exists, layering it over Default, then
// applies XOUS_LISTEN_ADDR if set — the single documented override,
// taking precedence over both the file and the built-in default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	if addr, ok := os.LookupEnv("XOUS_LISTEN_ADDR"); ok {
		cfg.ListenAddr = addr
	}
	return cfg, nil
}
