package adb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adbkey"
	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Defaults for Config fields left at zero.
const (
	DefaultPort              = 5555
	DefaultCommandTimeout    = 15 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultEchoTimeout       = 5 * time.Second
	DefaultMaxConcurrent     = 2
	defaultScreenshotSettle  = 2 * time.Second
	defaultScreenshotRetries = 3
	defaultScreenshotBackoff = time.Second
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// ConnState is the manager's view of the session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Config configures a Manager.
type Config struct {
	Host           string
	Port           int
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
	EchoTimeout    time.Duration
	MaxConcurrent  int
	CacheTTL       time.Duration
	CacheSize      int

	// Keys is presented on connect when set; nil means keyless.
	Keys *adbkey.KeyPair
	// Transport defaults to a gadb transport for Host:Port.
	Transport Transport

	ScreenshotSettle        time.Duration
	ScreenshotRetries       int
	ScreenshotRetryInterval time.Duration

	// Sleep defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Manager owns the single session to one device and executes commands on it.
type Manager struct {
	cfg       Config
	deviceID  string
	transport Transport
	cache     *Cache
	slots     *semaphore.Weighted
	sleep     func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	state ConnState

	screenshotMu sync.Mutex
}

// DeviceID is the "host:port" id used in cache keys, logs and events.
func DeviceID(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// NewManager validates cfg and fills defaults.
func NewManager(cfg Config) (*Manager, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("adb manager: host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = DefaultEchoTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ScreenshotSettle <= 0 {
		cfg.ScreenshotSettle = defaultScreenshotSettle
	}
	if cfg.ScreenshotRetries <= 0 {
		cfg.ScreenshotRetries = defaultScreenshotRetries
	}
	if cfg.ScreenshotRetryInterval <= 0 {
		cfg.ScreenshotRetryInterval = defaultScreenshotBackoff
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewGadbTransport(cfg.Host, cfg.Port)
	}
	return &Manager{
		cfg:       cfg,
		deviceID:  DeviceID(cfg.Host, cfg.Port),
		transport: transport,
		cache:     NewCache(cfg.CacheSize, cfg.CacheTTL),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		sleep:     cfg.Sleep,
		state:     StateDisconnected,
	}, nil
}

// DeviceID is host:port, the identity used for cache keys and logs.
func (m *Manager) DeviceID() string {
	return m.deviceID
}

// State reports the believed session state without probing.
func (m *Manager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s ConnState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connect opens the session and validates it with an echo round trip. On any
// failure the manager is left fully disconnected.
func (m *Manager) Connect(ctx context.Context) bool {
	m.setState(StateConnecting)
	logger := log.With().Str("device", m.deviceID).Logger()

	if err := m.transport.Connect(ctx, m.cfg.Keys, m.cfg.ConnectTimeout); err != nil {
		logger.Warn().Err(err).Msg("adb connect failed")
		m.abortConnect()
		return false
	}
	out, err := m.shell(ctx, catalog.EchoCommand, m.cfg.EchoTimeout)
	if err != nil || !strings.Contains(out, catalog.EchoToken) {
		logger.Warn().Err(err).Str("output", strings.TrimSpace(out)).Msg("adb connection validation failed")
		m.abortConnect()
		return false
	}
	m.setState(StateConnected)
	logger.Info().Bool("with_keys", m.cfg.Keys != nil).Msg("adb connected")
	return true
}

func (m *Manager) abortConnect() {
	if err := m.transport.Close(); err != nil {
		log.Debug().Err(err).Str("device", m.deviceID).Msg("close after failed connect")
	}
	m.setState(StateDisconnected)
}

// Disconnect closes the session. The connected flag is cleared even if close fails.
func (m *Manager) Disconnect(ctx context.Context) {
	defer m.setState(StateDisconnected)
	if err := m.transport.Close(); err != nil {
		log.Warn().Err(err).Str("device", m.deviceID).Msg("adb disconnect failed")
		return
	}
	log.Info().Str("device", m.deviceID).Msg("adb disconnected")
}

// IsConnected checks a believed-connected session with a short echo. A failed
// echo flips the manager to disconnected.
func (m *Manager) IsConnected(ctx context.Context) bool {
	if m.State() != StateConnected {
		return false
	}
	out, err := m.shell(ctx, catalog.EchoCommand, m.cfg.EchoTimeout)
	if err == nil && strings.Contains(out, catalog.EchoToken) {
		return true
	}
	log.Warn().Err(err).Str("device", m.deviceID).Msg("adb liveness check failed")
	m.setState(StateDisconnected)
	return false
}

// Execute runs command, reusing a fresh cached result or an identical in-flight
// call where possible. It never returns an error; failures are encoded in Result.
func (m *Manager) Execute(ctx context.Context, command string, useCache bool) Result {
	key := m.cache.Key(m.deviceID, command)
	if useCache {
		if res, ok := m.cache.Lookup(key); ok {
			return res
		}
		handle, leader := m.cache.RegisterPending(key)
		if !leader {
			return handle.Wait(ctx)
		}
		res := m.run(ctx, command)
		m.cache.ResolvePending(key, res)
		if res.Success {
			m.cache.Store(key, res)
		}
		return res
	}
	if handle, ok := m.cache.InFlight(key); ok {
		return handle.Wait(ctx)
	}
	return m.run(ctx, command)
}

// Shell is Execute without the cache, for commands with side effects.
func (m *Manager) Shell(ctx context.Context, command string) Result {
	return m.Execute(ctx, command, false)
}

func (m *Manager) run(ctx context.Context, command string) Result {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return contextResult(err)
	}
	defer m.slots.Release(1)

	if m.State() != StateConnected {
		return failResult(ErrorCannotConnect, "not connected to "+m.deviceID)
	}
	out, err := m.shell(ctx, command, m.cfg.CommandTimeout)
	if err != nil {
		res := contextResult(err)
		log.Debug().Err(err).Str("device", m.deviceID).Str("command", command).Str("error", string(res.Error)).Msg("adb command failed")
		return res
	}
	return okResult(out)
}

func (m *Manager) shell(ctx context.Context, command string, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return runBlocking(cctx, func() (string, error) {
		return m.transport.Shell(cctx, command)
	})
}

// SweepCache drops expired cache entries.
func (m *Manager) SweepCache() int {
	return m.cache.Sweep()
}

// CacheStats exposes cache counters for diagnostics.
func (m *Manager) CacheStats() CacheStats {
	return m.cache.Stats()
}

func contextResult(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return failResult(ErrorTimeout, err.Error())
	}
	return failResult(ErrorUnknown, err.Error())
}

// SleepContext waits for d or until ctx ends. It is the default sleep for
// every component that takes an injectable one.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
