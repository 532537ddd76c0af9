// Package health checks and restarts a supervised Android app.
package health

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultRestartDelay = 2 * time.Second
	defaultLogLines     = 50
)

// Executor is the part of adb.Manager the monitor needs.
type Executor interface {
	Execute(ctx context.Context, command string, useCache bool) adb.Result
}

// Thresholds mark a running app as unhealthy.
type Thresholds struct {
	MemoryPercent float64
	CPUPercent    float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MemoryPercent <= 0 {
		t.MemoryPercent = DefaultMemoryThreshold
	}
	if t.CPUPercent <= 0 {
		t.CPUPercent = DefaultCPUThreshold
	}
	return t
}

// Report is the outcome of one Check.
type Report struct {
	Package       string    `json:"package"`
	Status        Status    `json:"status"`
	Running       bool      `json:"running"`
	PID           int       `json:"pid,omitempty"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	CPUPercent    float64   `json:"cpu_percent"`
	CrashLine     string    `json:"crash_line,omitempty"`
	NewCrash      bool      `json:"new_crash"`
	ANRCount      int       `json:"anr_count"`
	CheckedAt     time.Time `json:"checked_at"`
}

// AppMonitor is the capability set of a supervised app.
type AppMonitor interface {
	Package() string
	IsRunning(ctx context.Context) (pid int, running bool)
	Memory(ctx context.Context) (mb, percent float64)
	CPU(ctx context.Context) float64
	Check(ctx context.Context, th Thresholds) Report
	Restart(ctx context.Context) bool
	ForceStop(ctx context.Context) bool
	ForceStart(ctx context.Context) bool
	ClearCache(ctx context.Context) bool
	Logs(ctx context.Context, lines int) []string
	CrashLogs(ctx context.Context, lines int) []string
	ANRLogs(ctx context.Context) []string
	ShouldRestart(memThreshold, cpuThreshold float64, maxAttempts int) bool
	Tracker() RestartTracker
	RecordRestart(at time.Time)
	SetCooldown(d time.Duration)
}

// PackageMonitor implements AppMonitor for one package and its main activity.
type PackageMonitor struct {
	exec     Executor
	pkg      string
	activity string

	RestartDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	tracker       RestartTracker
	cooldown      time.Duration
	lastCrashLine string
	last          Report
}

var _ AppMonitor = (*PackageMonitor)(nil)

// NewPackageMonitor binds a monitor to pkg, started through activity.
func NewPackageMonitor(exec Executor, pkg, activity string) (*PackageMonitor, error) {
	if exec == nil {
		return nil, errors.New("health monitor: executor is nil")
	}
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return nil, errors.New("health monitor: package is empty")
	}
	if strings.TrimSpace(activity) == "" {
		activity = pkg + "/.MainActivity"
	}
	return &PackageMonitor{
		exec:         exec,
		pkg:          pkg,
		activity:     activity,
		RestartDelay: defaultRestartDelay,
		cooldown:     DefaultCooldown,
		now:          time.Now,
		sleep:        adb.SleepContext,
	}, nil
}

// NewISGMonitor binds the ISG companion app.
func NewISGMonitor(exec Executor) (*PackageMonitor, error) {
	return NewPackageMonitor(exec, catalog.ISGPackage, catalog.ISGMainActivity)
}

// SetClock overrides time and sleeping, mainly for tests.
func (m *PackageMonitor) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		m.now = now
	}
	if sleep != nil {
		m.sleep = sleep
	}
}

func (m *PackageMonitor) Package() string { return m.pkg }

func (m *PackageMonitor) IsRunning(ctx context.Context) (int, bool) {
	pid, running, _ := m.pid(ctx)
	return pid, running
}

// pid also reports whether the query itself went through.
func (m *PackageMonitor) pid(ctx context.Context) (pid int, running, queried bool) {
	res := m.exec.Execute(ctx, catalog.Pidof(m.pkg), false)
	if !res.Success {
		return 0, false, false
	}
	pid, running = catalog.ParsePid(res.Stdout)
	return pid, running, true
}

// Memory returns the app's total PSS in MB and, when the device total is
// known, its share of system memory.
func (m *PackageMonitor) Memory(ctx context.Context) (float64, float64) {
	res := m.exec.Execute(ctx, catalog.AppMemInfo(m.pkg), false)
	if !res.Success {
		return 0, 0
	}
	mb := float64(catalog.ParseMemInfoTotalKB(res.Stdout)) / 1024
	sys := m.exec.Execute(ctx, catalog.CmdMemInfo, true)
	if !sys.Success {
		return mb, 0
	}
	totalKB, _ := catalog.ParseMemInfo(sys.Stdout)
	if totalKB <= 0 {
		return mb, 0
	}
	return mb, mb / (float64(totalKB) / 1024) * 100
}

func (m *PackageMonitor) CPU(ctx context.Context) float64 {
	res := m.exec.Execute(ctx, catalog.AppCPU(m.pkg), false)
	if !res.Success {
		return 0
	}
	return catalog.ParseProcessCPU(res.Stdout, m.pkg)
}

// Check runs the full health query. A crash line is only reported as new the
// first time it is seen.
func (m *PackageMonitor) Check(ctx context.Context, th Thresholds) Report {
	th = th.withDefaults()
	report := Report{Package: m.pkg, Status: StatusUnknown, CheckedAt: m.now()}

	pid, running, queried := m.pid(ctx)
	if !queried {
		m.remember(report)
		return report
	}
	report.PID, report.Running = pid, running

	if crashes := m.CrashLogs(ctx, defaultLogLines); len(crashes) > 0 {
		report.CrashLine = crashes[len(crashes)-1]
	}
	m.mu.Lock()
	if report.CrashLine != "" && report.CrashLine != m.lastCrashLine {
		report.NewCrash = true
		m.lastCrashLine = report.CrashLine
	}
	m.mu.Unlock()
	report.ANRCount = len(m.ANRLogs(ctx))

	switch {
	case !running:
		report.Status = StatusNotRunning
	default:
		report.MemoryMB, report.MemoryPercent = m.Memory(ctx)
		report.CPUPercent = m.CPU(ctx)
		switch {
		case report.NewCrash:
			report.Status = StatusCrashed
		case report.MemoryPercent > th.MemoryPercent || report.CPUPercent > th.CPUPercent:
			report.Status = StatusUnhealthy
		default:
			report.Status = StatusHealthy
		}
	}
	m.remember(report)
	log.Debug().Str("package", m.pkg).Str("status", string(report.Status)).
		Int("pid", report.PID).Float64("memory_mb", report.MemoryMB).
		Float64("cpu", report.CPUPercent).Bool("new_crash", report.NewCrash).
		Msg("app health checked")
	return report
}

func (m *PackageMonitor) remember(r Report) {
	m.mu.Lock()
	m.last = r
	m.mu.Unlock()
}

// LastReport returns the most recent Check result.
func (m *PackageMonitor) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Restart force-stops the app, waits RestartDelay and starts it again. A
// successful restart is recorded in the tracker.
func (m *PackageMonitor) Restart(ctx context.Context) bool {
	logger := log.With().Str("package", m.pkg).Logger()
	logger.Info().Msg("restarting app")
	if !m.ForceStop(ctx) {
		logger.Warn().Msg("restart: force-stop failed")
		return false
	}
	if err := m.sleep(ctx, m.RestartDelay); err != nil {
		return false
	}
	if !m.ForceStart(ctx) {
		logger.Warn().Msg("restart: force-start failed")
		return false
	}
	m.RecordRestart(m.now())
	logger.Info().Int("restart_count", m.Tracker().Count).Msg("app restarted")
	return true
}

func (m *PackageMonitor) ForceStop(ctx context.Context) bool {
	return m.exec.Execute(ctx, catalog.ForceStop(m.pkg), false).Success
}

func (m *PackageMonitor) ForceStart(ctx context.Context) bool {
	res := m.exec.Execute(ctx, catalog.ForceStart(m.activity), false)
	if !res.Success {
		return false
	}
	// am start reports resolution errors on stdout with exit 0
	out := res.Output()
	return !strings.Contains(out, "Error:") && !strings.Contains(out, "does not exist")
}

// ClearCache wipes the app data. The caller restarts the app afterwards.
func (m *PackageMonitor) ClearCache(ctx context.Context) bool {
	res := m.exec.Execute(ctx, catalog.ClearData(m.pkg), false)
	return res.Success && strings.Contains(res.Output(), "Success")
}

func (m *PackageMonitor) Logs(ctx context.Context, lines int) []string {
	res := m.exec.Execute(ctx, catalog.AppLogs(m.pkg, lines), false)
	if !res.Success {
		return nil
	}
	return catalog.FilterLines(res.Stdout, "")
}

// CrashLogs returns crash-buffer lines mentioning the package, oldest first.
func (m *PackageMonitor) CrashLogs(ctx context.Context, lines int) []string {
	res := m.exec.Execute(ctx, catalog.CrashLogs(lines), false)
	if !res.Success {
		return nil
	}
	return catalog.FilterLines(res.Stdout, m.pkg)
}

func (m *PackageMonitor) ANRLogs(ctx context.Context) []string {
	res := m.exec.Execute(ctx, catalog.CmdANRLogs, false)
	if !res.Success {
		return nil
	}
	return catalog.FilterLines(res.Stdout, m.pkg)
}

// ShouldRestart applies the shared policy to the last Check result.
func (m *PackageMonitor) ShouldRestart(memThreshold, cpuThreshold float64, maxAttempts int) bool {
	m.mu.Lock()
	last, tracker, cooldown := m.last, m.tracker, m.cooldown
	m.mu.Unlock()
	if last.Status == StatusUnknown || last.CheckedAt.IsZero() {
		return false
	}
	return ShouldRestart(DecisionInput{
		Running:         last.Running,
		Status:          last.Status,
		MemoryPercent:   last.MemoryPercent,
		CPUPercent:      last.CPUPercent,
		NewCrash:        last.NewCrash,
		Tracker:         tracker,
		Now:             m.now(),
		MemoryThreshold: memThreshold,
		CPUThreshold:    cpuThreshold,
		MaxAttempts:     maxAttempts,
		Cooldown:        cooldown,
	})
}

func (m *PackageMonitor) Tracker() RestartTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker
}

// SetCooldown sets the minimum gap between automatic restarts. Non-positive
// values restore DefaultCooldown.
func (m *PackageMonitor) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	m.mu.Lock()
	m.cooldown = d
	m.mu.Unlock()
}

// RecordRestart counts a restart done outside Restart, e.g. the clear-cache flow.
func (m *PackageMonitor) RecordRestart(at time.Time) {
	m.mu.Lock()
	m.tracker.Record(at)
	m.mu.Unlock()
}
