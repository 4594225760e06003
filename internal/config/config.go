package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	World    WorldConfig    `yaml:"world"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
	Agents   []AgentClass   `yaml:"agents"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TickRate int    `yaml:"tick_rate"` // Hz
}

// JWTConfig holds JWT authentication settings
type JWTConfig struct {
	Issuer              string `yaml:"issuer"`
	PublicKeyURL        string `yaml:"public_key_url"`
	PublicKeyRefreshHrs int    `yaml:"public_key_refresh_hours"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Address         string `yaml:"address"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	BlacklistPrefix string `yaml:"blacklist_prefix"`
	SnapshotPrefix  string `yaml:"snapshot_prefix"`
}

// WorldConfig describes the region partition
type WorldConfig struct {
	Columns     int    `yaml:"columns"`
	Rows        int    `yaml:"rows"`
	Resolution  int    `yaml:"resolution"` // cells per region side
	DefaultCost int    `yaml:"default_cost"`
	MapFile     string `yaml:"map_file"` // optional per-region cost overrides
}

// CacheConfig holds route and field cache settings
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxEntries    int64         `yaml:"max_entries"`
}

// PipelineConfig bounds the work done per tick
type PipelineConfig struct {
	MaxFieldBuilds int `yaml:"max_field_builds_per_tick"`
	Workers        int `yaml:"workers"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AgentClass is one movement class with its own clearance view
type AgentClass struct {
	Name      string  `yaml:"name"`
	Footprint float64 `yaml:"footprint"`
	CellSize  float64 `yaml:"cell_size"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TickRate == 0 {
		cfg.Server.TickRate = 20
	}
	if cfg.JWT.PublicKeyRefreshHrs == 0 {
		cfg.JWT.PublicKeyRefreshHrs = 24
	}
	if cfg.Redis.BlacklistPrefix == "" {
		cfg.Redis.BlacklistPrefix = "blacklist:"
	}
	if cfg.Redis.SnapshotPrefix == "" {
		cfg.Redis.SnapshotPrefix = "flowfield:"
	}
	if cfg.World.Columns == 0 {
		cfg.World.Columns = 8
	}
	if cfg.World.Rows == 0 {
		cfg.World.Rows = 8
	}
	if cfg.World.Resolution == 0 {
		cfg.World.Resolution = 10
	}
	if cfg.World.DefaultCost == 0 {
		cfg.World.DefaultCost = 1
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 15 * time.Minute
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 100_000
	}
	if cfg.Pipeline.MaxFieldBuilds == 0 {
		cfg.Pipeline.MaxFieldBuilds = 16
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = []AgentClass{{Name: "default", Footprint: 1, CellSize: 1}}
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].CellSize == 0 {
			cfg.Agents[i].CellSize = 1
		}
	}
}

// Validate checks values that defaults cannot repair
func (cfg *Config) Validate() error {
	if cfg.World.Columns < 1 || cfg.World.Rows < 1 {
		return fmt.Errorf("world must have at least one region")
	}
	if cfg.World.Resolution < 2 || cfg.World.Resolution > 256 {
		return fmt.Errorf("world resolution %d outside [2, 256]", cfg.World.Resolution)
	}
	if cfg.World.DefaultCost < 1 || cfg.World.DefaultCost > 255 {
		return fmt.Errorf("default cost %d outside [1, 255]", cfg.World.DefaultCost)
	}
	if cfg.Server.TickRate < 1 {
		return fmt.Errorf("tick rate must be positive")
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent class without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent class %q", a.Name)
		}
		seen[a.Name] = true
		if a.Footprint < 0 || a.CellSize < 0 {
			return fmt.Errorf("agent class %q has a negative size", a.Name)
		}
	}
	return nil
}
