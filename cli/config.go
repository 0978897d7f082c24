package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/CefBoud/peerbus/types"
)

// LoadConfig reads a TOML configuration file on top of the defaults. An
// empty path returns the defaults.
func LoadConfig(path string) (types.Configuration, error) {
	cfg := types.DefaultConfiguration()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file: %w", err)
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parse config: unknown keys %v", undecoded)
	}
	return cfg, nil
}
