package tvboxagent

import (
	"context"
	"sync"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/httprunner/TVBoxAgent/internal/health"
	"github.com/httprunner/TVBoxAgent/internal/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrUpdateFailed marks a refresh that could not reach the device. The caller
// retries on its next tick.
var ErrUpdateFailed = errors.New("update failed")

// Commander is the part of adb.Manager the coordinator drives.
type Commander interface {
	DeviceID() string
	Connect(ctx context.Context) bool
	IsConnected(ctx context.Context) bool
	Execute(ctx context.Context, command string, useCache bool) adb.Result
	ScreenshotBytes(ctx context.Context) []byte
	SweepCache() int
}

// Config wires a Coordinator.
type Config struct {
	Commander Commander
	// Monitor defaults to the ISG monitor on Commander.
	Monitor     health.AppMonitor
	Options     Options
	Listeners   []Listener
	Events      EventRecorder
	Screenshots *ScreenshotStore

	// NavigateRate bounds navigation key presses per second.
	NavigateRate  rate.Limit
	NavigateBurst int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Coordinator polls one TV box into a Snapshot and runs user actions against it.
type Coordinator struct {
	mgr     Commander
	monitor health.AppMonitor
	events  EventRecorder
	shots   *ScreenshotStore
	nav     *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	refresh singleflight.Group

	mu        sync.RWMutex
	opts      Options
	snap      *state.Snapshot
	listeners []Listener
	lastHigh  time.Time
	lastLow   time.Time
	lastISG   time.Time
}

// NewCoordinator validates cfg and fills defaults.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Commander == nil {
		return nil, errors.New("coordinator: commander cannot be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = adb.SleepContext
	}
	opts := cfg.Options.withDefaults()
	monitor := cfg.Monitor
	if monitor == nil {
		pm, err := health.NewISGMonitor(cfg.Commander)
		if err != nil {
			return nil, errors.Wrap(err, "coordinator: create isg monitor")
		}
		pm.SetClock(cfg.Now, cfg.Sleep)
		monitor = pm
	}
	monitor.SetCooldown(opts.RestartCooldown)
	events := cfg.Events
	if events == nil {
		events = noopRecorder{}
	}
	if cfg.NavigateRate <= 0 {
		cfg.NavigateRate = 5
	}
	if cfg.NavigateBurst <= 0 {
		cfg.NavigateBurst = 3
	}
	return &Coordinator{
		mgr:       cfg.Commander,
		monitor:   monitor,
		events:    events,
		shots:     cfg.Screenshots,
		nav:       rate.NewLimiter(cfg.NavigateRate, cfg.NavigateBurst),
		now:       cfg.Now,
		sleep:     cfg.Sleep,
		opts:      opts,
		snap:      state.New(opts.Apps, opts.VisibleApps),
		listeners: append([]Listener(nil), cfg.Listeners...),
	}, nil
}

// DeviceID identifies the box in logs and events.
func (c *Coordinator) DeviceID() string {
	return c.mgr.DeviceID()
}

// Options returns the live options.
func (c *Coordinator) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// ApplyOptions swaps the options in place; the next cycle uses them.
func (c *Coordinator) ApplyOptions(opts Options) {
	opts = opts.withDefaults()
	c.mu.Lock()
	c.opts = opts
	c.snap.SetApps(opts.Apps, opts.VisibleApps)
	c.mu.Unlock()
	c.monitor.SetCooldown(opts.RestartCooldown)
	log.Info().Str("device", c.DeviceID()).
		Bool("isg_monitoring", opts.ISGMonitoring).Bool("isg_auto_restart", opts.ISGAutoRestart).
		Float64("isg_memory_threshold", opts.MemoryThreshold).Float64("isg_cpu_threshold", opts.CPUThreshold).
		Dur("update_interval", opts.UpdateInterval).Msg("options applied")
}

// AddListener registers l for subsequent publishes.
func (c *Coordinator) AddListener(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() state.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// Start runs one cycle immediately and then one per UpdateInterval until ctx
// ends. Failed cycles are logged and retried on the next tick.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}
	log.Info().Str("device", c.DeviceID()).Msg("start polling coordinator")

	if err := c.Refresh(ctx); err != nil {
		log.Error().Err(err).Str("device", c.DeviceID()).Msg("initial refresh failed")
	}

	interval := c.Options().UpdateInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("device", c.DeviceID()).Msg("polling coordinator stopped")
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Error().Err(err).Str("device", c.DeviceID()).Msg("refresh failed")
			}
			if next := c.Options().UpdateInterval; next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Refresh runs one polling cycle. Concurrent calls share the cycle already
// in progress.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		return nil, c.runCycle(ctx)
	})
	return err
}

func (c *Coordinator) runCycle(ctx context.Context) error {
	now := c.now()
	logger := log.With().Str("device", c.DeviceID()).Logger()

	if swept := c.mgr.SweepCache(); swept > 0 {
		logger.Debug().Int("expired", swept).Msg("cache swept")
	}

	if !c.ensureConnected(ctx) {
		c.mu.Lock()
		c.snap.UpdateConnection(false, "cannot connect", now)
		c.mu.Unlock()
		c.publish(ctx)
		return errors.Wrapf(ErrUpdateFailed, "device %s unreachable", c.DeviceID())
	}
	c.mu.Lock()
	c.snap.UpdateConnection(true, "", now)
	c.mu.Unlock()

	c.updatePower(ctx)
	c.updateMedia(ctx)
	c.updateVolume(ctx)

	opts := c.Options()
	c.mu.RLock()
	observedOff, offFor := c.snap.ObservedOff(), c.snap.OffFor(now)
	c.mu.RUnlock()
	if opts.SkipWhenOffline && observedOff && offFor < opts.OfflineSkip {
		logger.Debug().Dur("off_for", offFor).Msg("device recently off, skip detailed polling")
		c.finishCycle(ctx, now)
		return nil
	}

	if c.due(&c.lastHigh, opts.HighFreqInterval, now) {
		c.updateCurrentApp(ctx)
		c.updateBrightness(ctx)
		c.updateSystemLoad(ctx)
	}
	if c.due(&c.lastLow, opts.LowFreqInterval, now) {
		c.updateIdentity(ctx)
		c.updateWifi(ctx)
		c.updateInstalledApps(ctx)
	}
	if opts.ISGMonitoring && c.due(&c.lastISG, opts.ISGInterval, now) {
		c.superviseISG(ctx, opts)
	}

	c.finishCycle(ctx, now)
	return nil
}

func (c *Coordinator) finishCycle(ctx context.Context, now time.Time) {
	c.mu.Lock()
	c.snap.LastUpdate = now
	c.mu.Unlock()
	c.publish(ctx)
}

// due reports whether a layer last run at *last should run now, and marks it run.
func (c *Coordinator) due(last *time.Time, interval time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !last.IsZero() && now.Sub(*last) < interval {
		return false
	}
	*last = now
	return true
}

// ensureConnected checks the session and reconnects once when it is gone.
func (c *Coordinator) ensureConnected(ctx context.Context) bool {
	if c.mgr.IsConnected(ctx) {
		return true
	}
	ok := c.mgr.Connect(ctx)
	c.recordEvent(ctx, eventlog.Event{Kind: eventlog.KindConnection, Name: "reconnect", Success: ok})
	return ok
}

// query runs a read command and reports its stdout only on success.
func (c *Coordinator) query(ctx context.Context, command string, useCache bool) (string, bool) {
	res := c.mgr.Execute(ctx, command, useCache)
	if !res.Success {
		log.Debug().Str("device", c.DeviceID()).Str("command", command).
			Str("error", string(res.Error)).Str("stderr", res.Stderr).Msg("query failed, keep previous value")
		return "", false
	}
	return res.Stdout, true
}

func (c *Coordinator) updatePower(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdPowerDump, false)
	if !ok {
		return
	}
	wake, screenOn := catalog.ParsePower(out)
	c.mu.Lock()
	c.snap.UpdatePower(wake, screenOn, c.now())
	c.mu.Unlock()
}

func (c *Coordinator) updateMedia(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdMediaSession, false)
	if !ok {
		return
	}
	media := catalog.ParseMediaState(out)
	c.mu.Lock()
	c.snap.UpdateMedia(media)
	c.mu.Unlock()
}

func (c *Coordinator) updateVolume(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdVolumeGet, false)
	if !ok {
		return
	}
	cur, min, max, parsed := catalog.ParseVolume(out)
	if !parsed {
		return
	}
	c.mu.RLock()
	muted := c.snap.Muted
	c.mu.RUnlock()
	if dump, ok := c.query(ctx, catalog.CmdAudioDump, false); ok {
		muted = catalog.ParseMuted(dump)
	}
	c.mu.Lock()
	c.snap.UpdateVolume(cur, min, max, muted)
	c.mu.Unlock()
}

func (c *Coordinator) updateCurrentApp(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdCurrentActivity, false)
	if !ok {
		return
	}
	pkg, activity := catalog.ParseCurrentActivity(out)
	if pkg == "" {
		return
	}
	c.mu.Lock()
	c.snap.UpdateCurrentApp(pkg, activity)
	c.mu.Unlock()
}

func (c *Coordinator) updateBrightness(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdBrightnessGet, false)
	if !ok {
		return
	}
	raw, parsed := catalog.ParseBrightness(out)
	if !parsed {
		return
	}
	c.mu.Lock()
	c.snap.UpdateBrightness(raw)
	c.mu.Unlock()
}

func (c *Coordinator) updateSystemLoad(ctx context.Context) {
	cpuOut, cpuOK := c.query(ctx, catalog.CmdSystemCPU, false)
	memOut, memOK := c.query(ctx, catalog.CmdMemInfo, false)
	if !cpuOK && !memOK {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cpu := c.snap.CPUPercent
	if cpuOK {
		cpu = catalog.ParseSystemCPU(cpuOut)
	}
	total, avail := 0, 0
	if memOK {
		total, avail = catalog.ParseMemInfo(memOut)
	}
	c.snap.UpdateSystemLoad(cpu, total, avail)
}

func (c *Coordinator) updateIdentity(ctx context.Context) {
	c.mu.RLock()
	known := c.snap.IdentityKnown
	c.mu.RUnlock()
	if known {
		return
	}
	out, ok := c.query(ctx, catalog.CmdDeviceProps, true)
	if !ok {
		return
	}
	props := catalog.ParseProperties(out)
	if len(props) == 0 {
		return
	}
	id := catalog.IdentityFromProperties(props)
	c.mu.Lock()
	c.snap.SetIdentity(id)
	c.mu.Unlock()
	log.Info().Str("device", c.DeviceID()).Str("model", id.Model).Str("manufacturer", id.Manufacturer).
		Str("android", id.AndroidVersion).Str("serial", id.Serial).Msg("device identity")
}

func (c *Coordinator) updateWifi(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdWifiOn, true)
	if !ok {
		return
	}
	enabled := catalog.ParseWifiEnabled(out)
	ssid, ip := "", ""
	if enabled {
		if s, ok := c.query(ctx, catalog.CmdWifiSSID, true); ok {
			ssid = catalog.ParseSSID(s)
		}
		if s, ok := c.query(ctx, catalog.CmdWifiIP, true); ok {
			ip = catalog.ParseIPv4(s)
		}
	}
	c.mu.Lock()
	c.snap.UpdateWifi(enabled, ssid, ip)
	c.mu.Unlock()
}

func (c *Coordinator) updateInstalledApps(ctx context.Context) {
	out, ok := c.query(ctx, catalog.CmdInstalledApps, true)
	if !ok {
		return
	}
	pkgs := catalog.ParseInstalledPackages(out)
	c.mu.Lock()
	c.snap.UpdateInstalledApps(pkgs)
	c.mu.Unlock()
}

// publish hands a snapshot copy to every listener. Listener errors are logged.
func (c *Coordinator) publish(ctx context.Context) {
	c.mu.RLock()
	snap := c.snap.Clone()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		if err := l.OnSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Str("device", c.DeviceID()).Msg("snapshot listener failed")
		}
	}
}

func (c *Coordinator) recordEvent(ctx context.Context, e eventlog.Event) {
	e.DeviceID = c.DeviceID()
	if e.At.IsZero() {
		e.At = c.now()
	}
	if err := c.events.Record(ctx, e); err != nil {
		log.Warn().Err(err).Str("device", e.DeviceID).Str("kind", string(e.Kind)).Msg("record event failed")
	}
}
