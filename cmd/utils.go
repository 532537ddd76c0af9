package main

import (
	"os"
	"path/filepath"
	"strings"

	tvboxagent "github.com/httprunner/TVBoxAgent"
	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/adbkey"
	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/httprunner/TVBoxAgent/internal/options"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// stateDir is where keys, the event log and screenshots live by default.
func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".tvboxagent"
	}
	return filepath.Join(home, ".tvboxagent")
}

// loadOptions layers the options file over TVBOX_* variables over defaults,
// then applies the --host/--port flags.
func loadOptions() (tvboxagent.Options, string, error) {
	src := options.FromEnv()
	path := config.String(config.EnvOptionsFile, "")
	if path != "" {
		fileSrc, err := options.Load(path)
		if err != nil {
			return tvboxagent.Options{}, path, err
		}
		src = src.Merge(fileSrc)
	}
	opts := tvboxagent.DefaultOptions().Apply(src)
	if h := strings.TrimSpace(rootHost); h != "" {
		opts.Host = h
	}
	if rootPort > 0 {
		opts.Port = rootPort
	}
	if opts.Host == "" {
		return opts, path, errors.Errorf("--host or %s must be provided", config.EnvHost)
	}
	return opts, path, nil
}

// newManager builds the ADB manager for opts, presenting the persisted key
// pair when one can be created.
func newManager(opts tvboxagent.Options) (*adb.Manager, error) {
	keyDir := config.String(config.EnvKeyDir, filepath.Join(stateDir(), "keys"))
	deviceID := adb.DeviceID(opts.Host, opts.Port)
	keys := adbkey.Provider{Dir: keyDir}.EnsureOrNil(deviceID)
	if keys == nil {
		log.Warn().Str("key_dir", keyDir).Msg("no adb key pair, connecting without one")
	}
	return adb.NewManager(adb.Config{
		Host:           opts.Host,
		Port:           opts.Port,
		CommandTimeout: config.Duration(config.EnvCommandTimeout, adb.DefaultCommandTimeout),
		MaxConcurrent:  config.Int(config.EnvMaxConcurrent, adb.DefaultMaxConcurrent),
		CacheTTL:       config.Duration(config.EnvCacheTTL, 0),
		CacheSize:      config.Int(config.EnvCacheSize, 0),
		Keys:           keys,
	})
}
