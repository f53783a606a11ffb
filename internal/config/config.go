// Package config handles configuration loading for the ili server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Render  RenderConfig  `yaml:"render"`
	Mapping MappingConfig `yaml:"mapping"`
	Cache   CacheConfig   `yaml:"cache"`
	Tasks   TasksConfig   `yaml:"tasks"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	SpotRadius      float64 `yaml:"spot_radius"`
	GlobalSpotScale float64 `yaml:"global_spot_scale"`
	SpotBorder      float64 `yaml:"spot_border"`
	DefaultColormap string  `yaml:"default_colormap"`
}

// MappingConfig contains intensity mapping defaults.
type MappingConfig struct {
	Scale           string  `yaml:"scale"`
	HotspotQuantile float64 `yaml:"hotspot_quantile"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes"`
	SnapshotEntries int `yaml:"snapshot_entries"`
}

// TasksConfig maps task kinds to external worker commands. A kind without a
// command runs in-process.
type TasksConfig struct {
	Workers map[string]string `yaml:"workers"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Render: RenderConfig{
			SpotRadius:      10,
			GlobalSpotScale: 1,
			SpotBorder:      0.25,
			DefaultColormap: "red-hot",
		},
		Mapping: MappingConfig{
			Scale:           "linear",
			HotspotQuantile: 1,
		},
		Cache: CacheConfig{
			FrameSizeMB:     128,
			FrameTTLMinutes: 10,
			SnapshotEntries: 32,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Render.SpotRadius == 0 {
		cfg.Render.SpotRadius = defaults.Render.SpotRadius
	}
	if cfg.Render.GlobalSpotScale == 0 {
		cfg.Render.GlobalSpotScale = defaults.Render.GlobalSpotScale
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Mapping.Scale == "" {
		cfg.Mapping.Scale = defaults.Mapping.Scale
	}
	if cfg.Mapping.HotspotQuantile == 0 {
		cfg.Mapping.HotspotQuantile = defaults.Mapping.HotspotQuantile
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.SnapshotEntries == 0 {
		cfg.Cache.SnapshotEntries = defaults.Cache.SnapshotEntries
	}
}
