package config

import (
	"os"
	"strconv"
)

// FromEnv overlays PITLINE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("PITLINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PITLINE_FSYNC_MODE"); v != "" {
		cfg.FsyncMode = v
	}
	if v := os.Getenv("PITLINE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("PITLINE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PITLINE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PITLINE_CACHE_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLMs = n
		}
	}
	if v := os.Getenv("PITLINE_CACHE_GRACE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.GraceMs = n
		}
	}
	if v := os.Getenv("PITLINE_TXN_BACKOFF"); v != "" {
		cfg.Txn.Backoff = v
	}
	if v := os.Getenv("PITLINE_TXN_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Txn.MaxAttempts = n
		}
	}
	if v := os.Getenv("PITLINE_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.IntervalMs = n
		}
	}
	if v := os.Getenv("PITLINE_ENTRY_MAX_AGE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.EntryMaxAgeMs = n
		}
	}
	if v := os.Getenv("PITLINE_UPDATES_MODE"); v != "" {
		cfg.Updates.DefaultMode = v
	}
	if v := os.Getenv("PITLINE_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Updates.PollIntervalMs = n
		}
	}
	if v := os.Getenv("PITLINE_AUTO_CREATE_LOCATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoCreateLocations = b
		}
	}
}
