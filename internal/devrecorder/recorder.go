// Package devrecorder mirrors snapshots into the Feishu device status table.
package devrecorder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/httprunner/TVBoxAgent/internal/feishusdk"
	"github.com/httprunner/TVBoxAgent/internal/state"
	"github.com/rs/zerolog/log"
)

// DefaultHeartbeat is how often an unchanged row is rewritten to refresh LastSeenAt.
const DefaultHeartbeat = 5 * time.Minute

// StatusSink stores one device status row.
type StatusSink interface {
	UpsertDeviceStatus(ctx context.Context, rawURL string, fields feishusdk.DeviceFields, s feishusdk.DeviceStatus) error
}

// Recorder is a snapshot listener for one device. It writes when the row
// changes or when the heartbeat has elapsed.
type Recorder struct {
	sink         StatusSink
	tableURL     string
	fields       feishusdk.DeviceFields
	deviceID     string
	agentVersion string
	heartbeat    time.Duration
	clock        func() time.Time

	mu        sync.Mutex
	last      feishusdk.DeviceStatus
	lastWrite time.Time
}

// New returns a recorder writing to tableURL through sink.
func New(sink StatusSink, tableURL string, fields feishusdk.DeviceFields, deviceID, agentVersion string) *Recorder {
	return &Recorder{
		sink:         sink,
		tableURL:     strings.TrimSpace(tableURL),
		fields:       fields,
		deviceID:     deviceID,
		agentVersion: agentVersion,
		heartbeat:    DefaultHeartbeat,
		clock:        time.Now,
	}
}

// NewFromEnv builds a Feishu-backed recorder. It returns nil when
// TVBOX_DEVICE_BITABLE_URL is unset.
func NewFromEnv(deviceID, agentVersion string) (*Recorder, error) {
	tableURL := config.String(config.EnvDeviceBitableURL, "")
	if tableURL == "" {
		return nil, nil
	}
	if _, err := feishusdk.ParseBitableURL(tableURL); err != nil {
		return nil, err
	}
	cli, err := feishusdk.NewClientFromEnv()
	if err != nil {
		return nil, err
	}
	log.Info().Str("table_url", tableURL).Str("device", deviceID).Msg("feishu device recorder enabled")
	return New(cli, tableURL, feishusdk.DeviceFieldsFromEnv(), deviceID, agentVersion), nil
}

// OnSnapshot implements the coordinator listener.
func (r *Recorder) OnSnapshot(ctx context.Context, snap state.Snapshot) error {
	if r == nil || r.sink == nil || r.tableURL == "" {
		return nil
	}
	status := r.statusFrom(snap)
	now := r.clock()

	r.mu.Lock()
	if sameRow(status, r.last) && !r.lastWrite.IsZero() && now.Sub(r.lastWrite) < r.heartbeat {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.sink.UpsertDeviceStatus(ctx, r.tableURL, r.fields, status); err != nil {
		log.Error().Err(err).Str("device", r.deviceID).Str("power", status.Power).
			Str("isg_status", status.ISGStatus).Msg("feishu recorder: upsert device failed")
		return err
	}
	r.mu.Lock()
	r.last = status
	r.lastWrite = now
	r.mu.Unlock()
	return nil
}

func (r *Recorder) statusFrom(snap state.Snapshot) feishusdk.DeviceStatus {
	lastSeen := snap.LastSeen
	if lastSeen.IsZero() {
		lastSeen = r.clock()
	}
	app := snap.CurrentAppName
	if app == "" {
		app = snap.CurrentPackage
	}
	return feishusdk.DeviceStatus{
		DeviceID:     r.deviceID,
		Model:        strings.TrimSpace(snap.Identity.Manufacturer + " " + snap.Identity.Model),
		Android:      snap.Identity.AndroidVersion,
		Connected:    snap.Connected,
		Power:        string(snap.Power),
		Volume:       snap.VolumePercent,
		CurrentApp:   app,
		ISGStatus:    string(snap.ISG.Status),
		ISGRestarts:  snap.ISG.RestartCount,
		ISGCrashes:   snap.ISG.CrashCount,
		LastSeenAt:   lastSeen,
		LastError:    snap.LastError,
		AgentVersion: r.agentVersion,
	}
}

// sameRow compares everything but LastSeenAt.
func sameRow(a, b feishusdk.DeviceStatus) bool {
	a.LastSeenAt, b.LastSeenAt = time.Time{}, time.Time{}
	return a == b
}
