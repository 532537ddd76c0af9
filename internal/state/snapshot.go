// Package state holds the reconciled view of one TV box.
package state

import (
	"math"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/httprunner/TVBoxAgent/internal/health"
)

// PowerState is the logical power derived from wakefulness.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerStandby PowerState = "standby"
	// PowerUnknown is held until the first power query succeeds.
	PowerUnknown PowerState = "unknown"
)

// DerivePower maps wakefulness to on/off/standby and falls back to the screen
// flag when wakefulness is not recognised.
func DerivePower(w catalog.Wakefulness, screenOn bool) PowerState {
	switch w {
	case catalog.WakefulnessAwake:
		return PowerOn
	case catalog.WakefulnessAsleep:
		return PowerOff
	case catalog.WakefulnessDreaming:
		return PowerStandby
	}
	if screenOn {
		return PowerOn
	}
	return PowerOff
}

// ISG is the companion app slice of the snapshot.
type ISG struct {
	Running       bool          `json:"running"`
	PID           int           `json:"pid,omitempty"`
	MemoryMB      float64       `json:"memory_mb"`
	MemoryPercent float64       `json:"memory_percent"`
	CPUPercent    float64       `json:"cpu_percent"`
	Status        health.Status `json:"status"`
	LastCheck     time.Time     `json:"last_check"`
	StartedAt     time.Time     `json:"started_at"`
	Uptime        time.Duration `json:"uptime"`
	CrashCount    int           `json:"crash_count"`
	LastCrashAt   time.Time     `json:"last_crash_at"`
	LastCrashLine string        `json:"last_crash_line,omitempty"`
	ANRCount      int           `json:"anr_count"`
	RestartCount  int           `json:"restart_count"`
	LastRestartAt time.Time     `json:"last_restart_at"`
}

// Cast records the last cast request.
type Cast struct {
	Kind     catalog.CastKind `json:"kind,omitempty"`
	Target   string           `json:"target,omitempty"`
	Package  string           `json:"package,omitempty"`
	Verified bool             `json:"verified"`
	At       time.Time        `json:"at"`
}

// Snapshot is everything known about the device at one point in time. It is
// only written through the Update methods below.
type Snapshot struct {
	Connected  bool      `json:"connected"`
	LastSeen   time.Time `json:"last_seen"`
	LastError  string    `json:"last_error,omitempty"`
	LastUpdate time.Time `json:"last_update"`

	Wakefulness   catalog.Wakefulness `json:"wakefulness"`
	ScreenOn      bool                `json:"screen_on"`
	Power         PowerState          `json:"power"`
	PowerOffSince time.Time           `json:"power_off_since"`

	Media         catalog.MediaState `json:"media"`
	VolumeLevel   int                `json:"volume_level"`
	VolumeMin     int                `json:"volume_min"`
	VolumeMax     int                `json:"volume_max"`
	VolumePercent float64            `json:"volume_percent"`
	Muted         bool               `json:"muted"`

	WifiEnabled bool   `json:"wifi_enabled"`
	WifiSSID    string `json:"wifi_ssid,omitempty"`
	WifiIP      string `json:"wifi_ip,omitempty"`

	CurrentPackage  string `json:"current_package,omitempty"`
	CurrentAppName  string `json:"current_app_name,omitempty"`
	CurrentActivity string `json:"current_activity,omitempty"`

	BrightnessRaw     int     `json:"brightness_raw"`
	BrightnessPercent float64 `json:"brightness_percent"`

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`

	Identity      catalog.Identity `json:"identity"`
	IdentityKnown bool             `json:"identity_known"`

	InstalledApps []string          `json:"installed_apps,omitempty"`
	Apps          map[string]string `json:"apps,omitempty"`
	VisibleApps   []string          `json:"visible_apps,omitempty"`

	ISG  ISG  `json:"isg"`
	Cast Cast `json:"cast"`

	Screenshot   []byte    `json:"-"`
	ScreenshotAt time.Time `json:"screenshot_at"`
}

// New returns an empty snapshot using apps for friendly names.
func New(apps map[string]string, visible []string) *Snapshot {
	s := &Snapshot{
		Wakefulness: catalog.WakefulnessUnknown,
		Power:       PowerUnknown,
		Media:       catalog.MediaIdle,
		Identity:    catalog.IdentityFromProperties(nil),
		ISG:         ISG{Status: health.StatusUnknown},
	}
	s.SetApps(apps, visible)
	return s
}

// SetApps replaces the configured app mapping and visible list.
func (s *Snapshot) SetApps(apps map[string]string, visible []string) {
	s.Apps = make(map[string]string, len(apps))
	for k, v := range apps {
		s.Apps[k] = v
	}
	s.VisibleApps = append([]string(nil), visible...)
	if s.CurrentPackage != "" {
		s.CurrentAppName = catalog.FriendlyName(s.Apps, s.CurrentPackage)
	}
}

// UpdateConnection records reachability. Disconnecting keeps every other
// field so the last known values stay visible.
func (s *Snapshot) UpdateConnection(connected bool, errMsg string, now time.Time) {
	s.Connected = connected
	s.LastError = errMsg
	if connected {
		s.LastSeen = now
	}
}

// UpdatePower stores wakefulness and the derived power state, tracking since
// when the box has been off.
func (s *Snapshot) UpdatePower(w catalog.Wakefulness, screenOn bool, now time.Time) {
	s.Wakefulness = w
	s.ScreenOn = screenOn
	power := DerivePower(w, screenOn)
	if power == PowerOff {
		if s.Power != PowerOff || s.PowerOffSince.IsZero() {
			s.PowerOffSince = now
		}
	} else {
		s.PowerOffSince = time.Time{}
	}
	s.Power = power
}

// ObservedOff reports whether a successful power query has seen the box off.
func (s *Snapshot) ObservedOff() bool {
	return s.Power == PowerOff && !s.PowerOffSince.IsZero()
}

// OffFor reports how long the box has been off, or 0 when it is not off.
func (s *Snapshot) OffFor(now time.Time) time.Duration {
	if !s.ObservedOff() {
		return 0
	}
	return now.Sub(s.PowerOffSince)
}

func (s *Snapshot) UpdateMedia(m catalog.MediaState) {
	s.Media = m
}

// UpdateVolume stores the level and its percentage of max.
func (s *Snapshot) UpdateVolume(current, min, max int, muted bool) {
	s.VolumeLevel, s.VolumeMin, s.VolumeMax = current, min, max
	s.Muted = muted
	s.VolumePercent = percent(float64(current), float64(max))
}

// UpdateWifi drops SSID and IP when wifi is off.
func (s *Snapshot) UpdateWifi(enabled bool, ssid, ip string) {
	s.WifiEnabled = enabled
	if !enabled {
		s.WifiSSID, s.WifiIP = "", ""
		return
	}
	s.WifiSSID, s.WifiIP = ssid, ip
}

func (s *Snapshot) UpdateCurrentApp(pkg, activity string) {
	s.CurrentPackage = pkg
	s.CurrentActivity = activity
	s.CurrentAppName = catalog.FriendlyName(s.Apps, pkg)
}

func (s *Snapshot) UpdateBrightness(raw int) {
	s.BrightnessRaw = raw
	s.BrightnessPercent = percent(float64(raw), 255)
}

// UpdateSystemLoad stores device CPU and memory; memory comes in kB.
func (s *Snapshot) UpdateSystemLoad(cpu float64, totalKB, availableKB int) {
	s.CPUPercent = cpu
	if totalKB > 0 {
		s.MemoryTotalMB = float64(totalKB) / 1024
		s.MemoryUsedMB = float64(totalKB-availableKB) / 1024
	}
}

// SetIdentity stores the identity the first time only.
func (s *Snapshot) SetIdentity(id catalog.Identity) bool {
	if s.IdentityKnown {
		return false
	}
	s.Identity = id
	s.IdentityKnown = true
	return true
}

func (s *Snapshot) UpdateInstalledApps(pkgs []string) {
	s.InstalledApps = append([]string(nil), pkgs...)
}

// UpdateISGHealth applies a health report. Start time, uptime reset and the
// crash counter only change on actual transitions; it reports whether the
// crash line is one not seen before.
func (s *Snapshot) UpdateISGHealth(r health.Report, now time.Time) (newCrash bool) {
	prevRunning := s.ISG.Running
	isg := &s.ISG
	isg.Running = r.Running
	isg.PID = r.PID
	isg.MemoryMB = r.MemoryMB
	isg.MemoryPercent = r.MemoryPercent
	isg.CPUPercent = r.CPUPercent
	isg.Status = r.Status
	isg.LastCheck = now
	isg.ANRCount = r.ANRCount

	switch {
	case r.Running && !prevRunning:
		isg.StartedAt = now
		isg.Uptime = 0
	case !r.Running && prevRunning:
		isg.StartedAt = time.Time{}
		isg.Uptime = 0
	case r.Running:
		isg.Uptime = now.Sub(isg.StartedAt)
	}

	if r.CrashLine != "" && r.CrashLine != isg.LastCrashLine {
		isg.CrashCount++
		isg.LastCrashAt = now
		isg.LastCrashLine = r.CrashLine
		newCrash = true
	}
	return newCrash
}

// RecordRestart mirrors the restart tracker.
func (s *Snapshot) RecordRestart(t health.RestartTracker) {
	s.ISG.RestartCount = t.Count
	s.ISG.LastRestartAt = t.LastRestart
}

func (s *Snapshot) RecordScreenshot(data []byte, now time.Time) {
	s.Screenshot = data
	s.ScreenshotAt = now
}

func (s *Snapshot) RecordCast(c Cast) {
	s.Cast = c
}

// Clone returns a deep copy safe to hand to listeners.
func (s *Snapshot) Clone() Snapshot {
	c := *s
	c.InstalledApps = append([]string(nil), s.InstalledApps...)
	c.VisibleApps = append([]string(nil), s.VisibleApps...)
	if s.Apps != nil {
		c.Apps = make(map[string]string, len(s.Apps))
		for k, v := range s.Apps {
			c.Apps[k] = v
		}
	}
	if s.Screenshot != nil {
		c.Screenshot = append([]byte(nil), s.Screenshot...)
	}
	return c
}

func percent(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Round(v/max*1000) / 10
}
