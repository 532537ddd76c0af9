package tvboxagent

import (
	"strconv"
	"strings"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/health"
	"github.com/httprunner/TVBoxAgent/internal/options"
	"github.com/rs/zerolog/log"
)

// Options are the user-tunable settings of one device registration.
type Options struct {
	Host string
	Port int

	ISGMonitoring      bool
	ISGAutoRestart     bool
	MemoryThreshold    float64
	CPUThreshold       float64
	MaxRestartAttempts int
	RestartCooldown    time.Duration

	UpdateInterval   time.Duration
	HighFreqInterval time.Duration
	LowFreqInterval  time.Duration
	ISGInterval      time.Duration
	SkipWhenOffline  bool
	OfflineSkip      time.Duration

	ScreenshotKeep int
	Apps           map[string]string
	VisibleApps    []string
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Port:               adb.DefaultPort,
		ISGMonitoring:      true,
		ISGAutoRestart:     true,
		MemoryThreshold:    health.DefaultMemoryThreshold,
		CPUThreshold:       health.DefaultCPUThreshold,
		MaxRestartAttempts: health.DefaultMaxAttempts,
		RestartCooldown:    health.DefaultCooldown,
		UpdateInterval:     DefaultUpdateInterval,
		HighFreqInterval:   DefaultHighFreqInterval,
		LowFreqInterval:    DefaultLowFreqInterval,
		ISGInterval:        DefaultISGInterval,
		SkipWhenOffline:    true,
		OfflineSkip:        DefaultOfflineSkip,
		ScreenshotKeep:     3,
	}
}

// withDefaults fills zero numeric fields from DefaultOptions. Booleans are
// taken as given.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Port <= 0 {
		o.Port = d.Port
	}
	if o.MemoryThreshold <= 0 {
		o.MemoryThreshold = d.MemoryThreshold
	}
	if o.CPUThreshold <= 0 {
		o.CPUThreshold = d.CPUThreshold
	}
	if o.MaxRestartAttempts <= 0 {
		o.MaxRestartAttempts = d.MaxRestartAttempts
	}
	if o.RestartCooldown <= 0 {
		o.RestartCooldown = d.RestartCooldown
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = d.UpdateInterval
	}
	if o.HighFreqInterval <= 0 {
		o.HighFreqInterval = d.HighFreqInterval
	}
	if o.LowFreqInterval <= 0 {
		o.LowFreqInterval = d.LowFreqInterval
	}
	if o.ISGInterval <= 0 {
		o.ISGInterval = d.ISGInterval
	}
	if o.OfflineSkip <= 0 {
		o.OfflineSkip = d.OfflineSkip
	}
	if o.ScreenshotKeep <= 0 {
		o.ScreenshotKeep = d.ScreenshotKeep
	}
	return o
}

// Apply overlays src on o. Numeric options are clamped to their allowed
// ranges; unparsable values are logged and ignored.
func (o Options) Apply(src options.Source) Options {
	for key, raw := range src.Values {
		switch key {
		case options.KeyHost:
			o.Host = strings.TrimSpace(raw)
		case options.KeyPort:
			if v, ok := parseInt(key, raw); ok && v > 0 && v < 65536 {
				o.Port = v
			}
		case options.KeyISGMonitoring:
			if v, ok := parseBool(key, raw); ok {
				o.ISGMonitoring = v
			}
		case options.KeyISGAutoRestart:
			if v, ok := parseBool(key, raw); ok {
				o.ISGAutoRestart = v
			}
		case options.KeySkipWhenOffline:
			if v, ok := parseBool(key, raw); ok {
				o.SkipWhenOffline = v
			}
		case options.KeyISGMemoryThreshold:
			if v, ok := parseFloat(key, raw); ok {
				o.MemoryThreshold = clampFloat(v, minMemoryThreshold, maxMemoryThreshold)
			}
		case options.KeyISGCPUThreshold:
			if v, ok := parseFloat(key, raw); ok {
				o.CPUThreshold = clampFloat(v, minCPUThreshold, maxCPUThreshold)
			}
		case options.KeyUpdateInterval:
			if v, ok := parseSeconds(key, raw); ok {
				o.UpdateInterval = clampDuration(v, minUpdateInterval, maxUpdateInterval)
			}
		case options.KeyScreenshotKeep:
			if v, ok := parseInt(key, raw); ok && v > 0 {
				o.ScreenshotKeep = v
			}
		}
	}
	if src.Apps != nil {
		o.Apps = make(map[string]string, len(src.Apps))
		for k, v := range src.Apps {
			o.Apps[k] = v
		}
	}
	if src.Visible != nil {
		o.VisibleApps = append([]string(nil), src.Visible...)
	}
	return o
}

func parseInt(key, raw string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("option", key).Str("value", raw).Msg("ignore non-integer option")
		return 0, false
	}
	return v, true
}

func parseFloat(key, raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("option", key).Str("value", raw).Msg("ignore non-numeric option")
		return 0, false
	}
	return v, true
}

func parseBool(key, raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	log.Warn().Str("option", key).Str("value", raw).Msg("ignore non-boolean option")
	return false, false
}

// parseSeconds accepts a Go duration or a bare number of seconds.
func parseSeconds(key, raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	log.Warn().Str("option", key).Str("value", raw).Msg("ignore invalid interval option")
	return 0, false
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
