package feishusdk

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DeviceFields lists the column names of the device status table.
type DeviceFields struct {
	DeviceID     string
	Model        string
	Android      string
	Connected    string
	Power        string
	Volume       string
	CurrentApp   string
	ISGStatus    string
	ISGRestarts  string
	ISGCrashes   string
	LastSeenAt   string
	LastError    string
	AgentVersion string
}

// DefaultDeviceFields is the column layout used when no override is set.
var DefaultDeviceFields = DeviceFields{
	DeviceID:     "DeviceID",
	Model:        "Model",
	Android:      "Android",
	Connected:    "Connected",
	Power:        "Power",
	Volume:       "Volume",
	CurrentApp:   "CurrentApp",
	ISGStatus:    "ISGStatus",
	ISGRestarts:  "ISGRestarts",
	ISGCrashes:   "ISGCrashes",
	LastSeenAt:   "LastSeenAt",
	LastError:    "LastError",
	AgentVersion: "AgentVersion",
}

// DeviceFieldsFromEnv applies DEVICE_FIELD_* overrides to the defaults. An
// override set to an empty string drops the column.
func DeviceFieldsFromEnv() DeviceFields {
	fields := DefaultDeviceFields
	overrideFieldFromEnv("DEVICE_FIELD_ID", &fields.DeviceID)
	overrideFieldFromEnv("DEVICE_FIELD_MODEL", &fields.Model)
	overrideFieldFromEnv("DEVICE_FIELD_ANDROID", &fields.Android)
	overrideFieldFromEnv("DEVICE_FIELD_CONNECTED", &fields.Connected)
	overrideFieldFromEnv("DEVICE_FIELD_POWER", &fields.Power)
	overrideFieldFromEnv("DEVICE_FIELD_VOLUME", &fields.Volume)
	overrideFieldFromEnv("DEVICE_FIELD_CURRENT_APP", &fields.CurrentApp)
	overrideFieldFromEnv("DEVICE_FIELD_ISG_STATUS", &fields.ISGStatus)
	overrideFieldFromEnv("DEVICE_FIELD_ISG_RESTARTS", &fields.ISGRestarts)
	overrideFieldFromEnv("DEVICE_FIELD_ISG_CRASHES", &fields.ISGCrashes)
	overrideFieldFromEnv("DEVICE_FIELD_LAST_SEEN_AT", &fields.LastSeenAt)
	overrideFieldFromEnv("DEVICE_FIELD_LAST_ERROR", &fields.LastError)
	overrideFieldFromEnv("DEVICE_FIELD_AGENT_VERSION", &fields.AgentVersion)
	return fields
}

func overrideFieldFromEnv(env string, target *string) {
	if val, ok := os.LookupEnv(env); ok {
		*target = strings.TrimSpace(val)
	}
}

// DeviceStatus is one row of the device status table.
type DeviceStatus struct {
	DeviceID     string
	Model        string
	Android      string
	Connected    bool
	Power        string
	Volume       float64
	CurrentApp   string
	ISGStatus    string
	ISGRestarts  int
	ISGCrashes   int
	LastSeenAt   time.Time
	LastError    string
	AgentVersion string
}

// Payload maps s onto the configured columns. Empty strings are left out so a
// partial status does not blank existing cells.
func (s DeviceStatus) Payload(fields DeviceFields) map[string]any {
	out := make(map[string]any)
	addString := func(column, value string) {
		if column != "" && strings.TrimSpace(value) != "" {
			out[column] = value
		}
	}
	addValue := func(column string, value any) {
		if column != "" {
			out[column] = value
		}
	}
	addString(fields.DeviceID, s.DeviceID)
	addString(fields.Model, s.Model)
	addString(fields.Android, s.Android)
	addValue(fields.Connected, s.Connected)
	addString(fields.Power, s.Power)
	addValue(fields.Volume, s.Volume)
	addString(fields.CurrentApp, s.CurrentApp)
	addString(fields.ISGStatus, s.ISGStatus)
	addValue(fields.ISGRestarts, s.ISGRestarts)
	addValue(fields.ISGCrashes, s.ISGCrashes)
	if !s.LastSeenAt.IsZero() {
		addValue(fields.LastSeenAt, s.LastSeenAt.UnixMilli())
	}
	addValue(fields.LastError, s.LastError)
	addString(fields.AgentVersion, s.AgentVersion)
	return out
}

// UpsertDeviceStatus writes s into the table at rawURL keyed by DeviceID.
func (c *Client) UpsertDeviceStatus(ctx context.Context, rawURL string, fields DeviceFields, s DeviceStatus) error {
	if strings.TrimSpace(fields.DeviceID) == "" {
		return errors.New("feishu: device id column is not configured")
	}
	ref, err := ParseBitableURL(rawURL)
	if err != nil {
		return err
	}
	if _, err := c.UpsertRecord(ctx, ref, fields.DeviceID, s.DeviceID, s.Payload(fields)); err != nil {
		return errors.Wrapf(err, "feishu: upsert device %s", s.DeviceID)
	}
	return nil
}
