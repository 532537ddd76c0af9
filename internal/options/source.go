// Package options reads the flat option map from the environment and from a
// JSON options file.
package options

import (
	"os"
	"strings"

	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Option keys.
const (
	KeyHost               = "host"
	KeyPort               = "port"
	KeyISGMonitoring      = "isg_monitoring"
	KeyISGAutoRestart     = "isg_auto_restart"
	KeyISGMemoryThreshold = "isg_memory_threshold"
	KeyISGCPUThreshold    = "isg_cpu_threshold"
	KeyUpdateInterval     = "update_interval"
	KeyScreenshotKeep     = "screenshot_keep_count"
	KeySkipWhenOffline    = "skip_when_offline"
	KeyApps               = "apps"
	KeyVisible            = "visible"
)

var scalarKeys = []string{
	KeyHost,
	KeyPort,
	KeyISGMonitoring,
	KeyISGAutoRestart,
	KeyISGMemoryThreshold,
	KeyISGCPUThreshold,
	KeyUpdateInterval,
	KeyScreenshotKeep,
	KeySkipWhenOffline,
}

// Source is a partial option map. Absent keys leave the defaults alone.
type Source struct {
	Values  map[string]string
	Apps    map[string]string
	Visible []string
}

// Get returns a scalar value and whether it was set.
func (s Source) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Merge overlays other on s; other wins per key.
func (s Source) Merge(other Source) Source {
	out := Source{Values: make(map[string]string, len(s.Values)+len(other.Values))}
	for k, v := range s.Values {
		out.Values[k] = v
	}
	for k, v := range other.Values {
		out.Values[k] = v
	}
	out.Apps = s.Apps
	if other.Apps != nil {
		out.Apps = other.Apps
	}
	out.Visible = s.Visible
	if other.Visible != nil {
		out.Visible = other.Visible
	}
	return out
}

// ParseJSON reads a flat JSON object such as
//
//	{"host": "192.168.1.20", "isg_cpu_threshold": 85, "apps": {"Kodi": "org.xbmc.kodi"}}
func ParseJSON(data []byte) (Source, error) {
	if !gjson.ValidBytes(data) {
		return Source{}, errors.New("options: invalid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Source{}, errors.New("options: top level must be an object")
	}
	src := Source{Values: make(map[string]string)}
	for _, key := range scalarKeys {
		if r := root.Get(key); r.Exists() && r.Type != gjson.Null {
			src.Values[key] = strings.TrimSpace(r.String())
		}
	}
	if apps := root.Get(KeyApps); apps.IsObject() {
		src.Apps = make(map[string]string)
		apps.ForEach(func(name, pkg gjson.Result) bool {
			if n, p := strings.TrimSpace(name.String()), strings.TrimSpace(pkg.String()); n != "" && p != "" {
				src.Apps[n] = p
			}
			return true
		})
	}
	if visible := root.Get(KeyVisible); visible.IsArray() {
		src.Visible = []string{}
		for _, v := range visible.Array() {
			if name := strings.TrimSpace(v.String()); name != "" {
				src.Visible = append(src.Visible, name)
			}
		}
	}
	return src, nil
}

// Load reads and parses an options file.
func Load(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, errors.Wrapf(err, "options: read %s failed", path)
	}
	src, err := ParseJSON(data)
	if err != nil {
		return Source{}, errors.Wrapf(err, "options: parse %s failed", path)
	}
	return src, nil
}

// FromEnv collects TVBOX_<KEY> variables. TVBOX_APPS is a comma separated
// list of Name=package pairs and TVBOX_VISIBLE a comma separated name list.
func FromEnv() Source {
	src := Source{Values: make(map[string]string)}
	for _, key := range scalarKeys {
		if v := config.String(EnvKey(key), ""); v != "" {
			src.Values[key] = v
		}
	}
	if raw := config.String(EnvKey(KeyApps), ""); raw != "" {
		src.Apps = make(map[string]string)
		for _, pair := range strings.Split(raw, ",") {
			name, pkg, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			if name, pkg = strings.TrimSpace(name), strings.TrimSpace(pkg); name != "" && pkg != "" {
				src.Apps[name] = pkg
			}
		}
	}
	if raw := config.String(EnvKey(KeyVisible), ""); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				src.Visible = append(src.Visible, name)
			}
		}
	}
	return src
}

// EnvKey is the environment variable for an option key.
func EnvKey(key string) string {
	return "TVBOX_" + strings.ToUpper(key)
}
