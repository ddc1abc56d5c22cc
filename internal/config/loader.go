package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultFile is the service configuration file name the manager watches.
const DefaultFile = "plume.yaml"

// ResolvePath returns the configuration file path: CONFIG_PATH when set,
// otherwise the first existing candidate, otherwise empty.
func ResolvePath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	for _, candidate := range []string{
		filepath.Join("config", DefaultFile),
		filepath.Join("/app/config", DefaultFile),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Dir returns the directory the hot-reload manager should watch.
func Dir() string {
	if path := ResolvePath(); path != "" {
		return filepath.Dir(path)
	}
	return "config"
}

// Load builds the bootstrap configuration: defaults, then the config file
// when one exists, then environment overrides. The hot-reload manager takes
// over after startup; Load covers everything that must be known before it
// runs (logger construction, listener ports, datastore credentials).
func Load() (*PlumeConfig, error) {
	cfg := DefaultPlumeConfig()

	if path := ResolvePath(); path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		settings := v.AllSettings()
		if err := ValidatePlumeConfig(settings); err != nil {
			return nil, err
		}
		applyConfigMap(cfg, settings)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}
