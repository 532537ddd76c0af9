// Package publish fans device snapshots out over NATS.
package publish

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/state"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "tvbox"

// Message is the JSON body of a state message.
type Message struct {
	DeviceID    string         `json:"device_id"`
	PublishedAt time.Time      `json:"published_at"`
	State       state.Snapshot `json:"state"`
}

// Publisher sends snapshots of one device to <prefix>.<device>.state.
type Publisher struct {
	nc       *nats.Conn
	owned    bool
	subject  string
	deviceID string
	clock    func() time.Time
}

// Connect dials url with reconnect handlers that log through zerolog.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", url)
	}
	return nc, nil
}

// New binds a publisher to an existing connection. Close leaves nc open.
func New(nc *nats.Conn, prefix, deviceID string) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("publish: nats connection is nil")
	}
	return &Publisher{
		nc:       nc,
		subject:  Subject(prefix, deviceID),
		deviceID: deviceID,
		clock:    time.Now,
	}, nil
}

// Dial connects to url and returns a publisher that owns the connection.
func Dial(url, prefix, deviceID string) (*Publisher, error) {
	nc, err := Connect(url, "tvboxagent-"+deviceID)
	if err != nil {
		return nil, err
	}
	p, err := New(nc, prefix, deviceID)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	log.Info().Str("url", url).Str("subject", p.subject).Msg("nats state publisher enabled")
	return p, nil
}

// Subject builds the state subject. Dots and colons in the device id are
// replaced so "host:port" stays a single token.
func Subject(prefix, deviceID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	token := strings.NewReplacer(".", "_", ":", "_", " ", "_", "*", "_", ">", "_").Replace(strings.TrimSpace(deviceID))
	if token == "" {
		token = "unknown"
	}
	return prefix + "." + token + ".state"
}

// Subject returns the subject this publisher writes to.
func (p *Publisher) Subject() string {
	return p.subject
}

// OnSnapshot implements the coordinator listener.
func (p *Publisher) OnSnapshot(ctx context.Context, snap state.Snapshot) error {
	if p == nil || p.nc == nil {
		return nil
	}
	payload, err := json.Marshal(Message{DeviceID: p.deviceID, PublishedAt: p.clock().UTC(), State: snap})
	if err != nil {
		return errors.Wrap(err, "publish: marshal snapshot")
	}
	if err := p.nc.Publish(p.subject, payload); err != nil {
		return errors.Wrapf(err, "publish: send to %s", p.subject)
	}
	return nil
}

// Close flushes pending messages and closes an owned connection.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	if err := p.nc.Flush(); err != nil && !p.nc.IsClosed() {
		log.Warn().Err(err).Msg("nats flush failed")
	}
	if p.owned {
		p.nc.Close()
	}
	return nil
}
