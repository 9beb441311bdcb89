package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DataDir is the Pebble database directory; empty picks a host default.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// FsyncMode is always|interval|never.
	FsyncMode       string        `json:"fsyncMode" yaml:"fsyncMode"`
	FsyncIntervalMs int           `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	HTTPAddr        string        `json:"httpAddr" yaml:"httpAddr"`
	Log             LogConfig     `json:"log" yaml:"log"`
	Cache           CacheConfig   `json:"cache" yaml:"cache"`
	Txn             TxnConfig     `json:"txn" yaml:"txn"`
	Sweep           SweepConfig   `json:"sweep" yaml:"sweep"`
	Updates         UpdatesConfig `json:"updates" yaml:"updates"`
	// AutoCreateLocations registers unknown locations on first join.
	AutoCreateLocations bool `json:"autoCreateLocations" yaml:"autoCreateLocations"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// CacheConfig bounds snapshot staleness.
type CacheConfig struct {
	TTLMs   int `json:"ttlMs" yaml:"ttlMs"`
	GraceMs int `json:"graceMs" yaml:"graceMs"`
}

// TxnConfig tunes the optimistic retry loop.
type TxnConfig struct {
	// Backoff is none|fixed|exp|exp-jitter.
	Backoff     string `json:"backoff" yaml:"backoff"`
	BaseMs      int    `json:"baseMs" yaml:"baseMs"`
	CapMs       int    `json:"capMs" yaml:"capMs"`
	MaxAttempts int    `json:"maxAttempts" yaml:"maxAttempts"`
}

// SweepConfig drives the background expiry sweeper.
type SweepConfig struct {
	IntervalMs int `json:"intervalMs" yaml:"intervalMs"`
	// EntryMaxAgeMs is the default waiting age before expiry; a location
	// record can override it.
	EntryMaxAgeMs      int `json:"entryMaxAgeMs" yaml:"entryMaxAgeMs"`
	JournalRetentionMs int `json:"journalRetentionMs" yaml:"journalRetentionMs"`
	PageSize           int `json:"pageSize" yaml:"pageSize"`
}

// UpdatesConfig controls update distribution to subscribers.
type UpdatesConfig struct {
	// DefaultMode is poll|push; poll bounds per-subscriber cost.
	DefaultMode    string `json:"defaultMode" yaml:"defaultMode"`
	PollIntervalMs int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	Buffer         int    `json:"buffer" yaml:"buffer"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		FsyncMode: "always",
		HTTPAddr:  ":8080",
		Log:       LogConfig{Level: "info", Format: "text"},
		Cache:     CacheConfig{TTLMs: 3000, GraceMs: 30000},
		Txn: TxnConfig{
			Backoff:     "exp-jitter",
			BaseMs:      25,
			CapMs:       500,
			MaxAttempts: 5,
		},
		Sweep: SweepConfig{
			IntervalMs:         30000,
			EntryMaxAgeMs:      int((4 * time.Hour).Milliseconds()),
			JournalRetentionMs: int((24 * time.Hour).Milliseconds()),
			PageSize:           128,
		},
		Updates: UpdatesConfig{
			DefaultMode:    "poll",
			PollIntervalMs: 15000,
			Buffer:         16,
		},
		AutoCreateLocations: true,
	}
}

// Load reads configuration from a JSON or YAML file (by extension),
// overlaid on the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
