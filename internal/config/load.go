package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/luciancaetano/vmhttp"
)

// Load loads configuration with the following precedence:
// defaults < config file (optional) < environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", vmhttp.ErrConfigInvalid, err)
	}
	return cfg, nil
}

// decodeFile decodes path over c. Unknown keys are rejected so a typo does
// not silently fall back to a default.
func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", vmhttp.ErrConfigRead, err)
	}
	meta, err := toml.Decode(string(data), c)
	if err != nil {
		return fmt.Errorf("%s %s: %w", vmhttp.ErrConfigDecode, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s %s: unknown keys %s", vmhttp.ErrConfigDecode, path, strings.Join(keys, ", "))
	}
	return nil
}
