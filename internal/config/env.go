package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/env"
)

// Environment keys understood by the agent.
const (
	EnvHost               = "TVBOX_HOST"
	EnvPort               = "TVBOX_PORT"
	EnvKeyDir             = "TVBOX_KEY_DIR"
	EnvOptionsFile        = "TVBOX_OPTIONS_FILE"
	EnvEventDBPath        = "TVBOX_EVENT_DB_PATH"
	EnvNATSURL            = "TVBOX_NATS_URL"
	EnvNATSSubjectPrefix  = "TVBOX_NATS_SUBJECT_PREFIX"
	EnvDeviceBitableURL   = "TVBOX_DEVICE_BITABLE_URL"
	EnvScreenshotDir      = "TVBOX_SCREENSHOT_DIR"
	EnvCommandTimeout     = "TVBOX_COMMAND_TIMEOUT"
	EnvMaxConcurrent      = "TVBOX_MAX_CONCURRENT_COMMANDS"
	EnvCacheTTL           = "TVBOX_CACHE_TTL"
	EnvCacheSize          = "TVBOX_CACHE_SIZE"
	EnvISGMonitoring      = "TVBOX_ISG_MONITORING"
	EnvISGAutoRestart     = "TVBOX_ISG_AUTO_RESTART"
	EnvISGMemoryThreshold = "TVBOX_ISG_MEMORY_THRESHOLD"
	EnvISGCPUThreshold    = "TVBOX_ISG_CPU_THRESHOLD"
	EnvUpdateInterval     = "TVBOX_UPDATE_INTERVAL"
	EnvScreenshotKeep     = "TVBOX_SCREENSHOT_KEEP_COUNT"
	EnvSkipWhenOffline    = "TVBOX_SKIP_WHEN_OFFLINE"
)

func lookup(key string) string {
	_ = env.Ensure()
	return strings.TrimSpace(os.Getenv(key))
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	if val := lookup(key); val != "" {
		return val
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
// Bare integers are read as seconds.
func Duration(key string, fallback time.Duration) time.Duration {
	val := lookup(key)
	if val == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	if val := lookup(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Float returns a float environment variable or fallback when invalid.
func Float(key string, fallback float64) float64 {
	if val := lookup(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	if val := lookup(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
