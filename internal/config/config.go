package config

import "path/filepath"

// DirName is the per-project configuration directory.
const DirName = ".dbindex"

// Config represents the complete dbindex configuration.
// It can be loaded from .dbindex/config.yml with environment variable overrides.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Check     CheckConfig     `yaml:"check" mapstructure:"check"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

// DiscoveryConfig controls how migration directories are found.
type DiscoveryConfig struct {
	MigrationsDir string   `yaml:"migrations_dir" mapstructure:"migrations_dir"` // directory name that marks an app's migrations
	Ignore        []string `yaml:"ignore" mapstructure:"ignore"`                 // glob patterns relative to the root
}

// CheckConfig tunes reconstruction.
type CheckConfig struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`       // 0 means one per CPU
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"` // parsed files kept in memory during watch
}

// StorageConfig locates the run history database.
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // relative paths resolve against the checked root
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			MigrationsDir: "migrations",
			Ignore: []string{
				".git/**",
				".venv/**",
				"venv/**",
				".tox/**",
				"node_modules/**",
				"**/site-packages/**",
				"**/__pycache__/**",
			},
		},
		Check: CheckConfig{
			Workers:   0,
			CacheSize: 4096,
		},
		Storage: StorageConfig{
			Path: filepath.Join(DirName, "history.db"),
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

// StorePath resolves the history database path for root.
func (c *Config) StorePath(root string) string {
	if filepath.IsAbs(c.Storage.Path) {
		return c.Storage.Path
	}
	return filepath.Join(root, c.Storage.Path)
}
