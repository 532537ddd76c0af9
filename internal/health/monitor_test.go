package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExec struct {
	mu      sync.Mutex
	outputs map[string]adb.Result
	calls   []string
}

func newStubExec() *stubExec {
	return &stubExec{outputs: make(map[string]adb.Result)}
}

func (s *stubExec) set(cmd, stdout string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[cmd] = adb.Result{Success: true, Stdout: stdout}
}

func (s *stubExec) Execute(ctx context.Context, command string, useCache bool) adb.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)
	if res, ok := s.outputs[command]; ok {
		return res
	}
	return adb.Result{Error: adb.ErrorUnknown, Stderr: "no stub for " + command}
}

func (s *stubExec) called(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == cmd {
			n++
		}
	}
	return n
}

const (
	isgMemInfo = `Applications Memory Usage (in Kilobytes):
** MEMINFO in pid 4242 [com.linknlink.app.device.isg] **
                   Pss  Private  Private  SwapPss     Heap
                 Total    Dirty    Clean    Dirty     Size
        TOTAL   204800   150000    20000        0    65536
`
	sysMemInfo = "MemTotal:        2048000 kB\nMemFree:          100000 kB\nMemAvailable:     900000 kB\n"
	isgTop     = "  PID USER         PR  NI VIRT  RES  SHR S[%CPU] %MEM     TIME+ ARGS\n 4242 u0_a57       10 -10 1.2G 180M  90M S 12.5  9.0   1:02.33 com.linknlink.app.device.isg\n"
)

func healthyISG(exec *stubExec) {
	exec.set(catalog.Pidof(catalog.ISGPackage), "4242\n")
	exec.set(catalog.AppMemInfo(catalog.ISGPackage), isgMemInfo)
	exec.set(catalog.CmdMemInfo, sysMemInfo)
	exec.set(catalog.AppCPU(catalog.ISGPackage), isgTop)
	exec.set(catalog.CrashLogs(defaultLogLines), "")
	exec.set(catalog.CmdANRLogs, "")
}

func newTestMonitor(t *testing.T, exec *stubExec) (*PackageMonitor, *time.Time) {
	t.Helper()
	m, err := NewISGMonitor(exec)
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now }, func(context.Context, time.Duration) error { return nil })
	return m, &now
}

func TestCheckHealthy(t *testing.T) {
	exec := newStubExec()
	healthyISG(exec)
	m, _ := newTestMonitor(t, exec)

	r := m.Check(context.Background(), Thresholds{})
	assert.Equal(t, StatusHealthy, r.Status)
	assert.True(t, r.Running)
	assert.Equal(t, 4242, r.PID)
	assert.InDelta(t, 200.0, r.MemoryMB, 0.01)
	assert.InDelta(t, 10.0, r.MemoryPercent, 0.01)
	assert.InDelta(t, 12.5, r.CPUPercent, 0.01)
	assert.False(t, m.ShouldRestart(80, 90, 3))
}

func TestCheckStatuses(t *testing.T) {
	exec := newStubExec()
	healthyISG(exec)
	m, _ := newTestMonitor(t, exec)

	r := m.Check(context.Background(), Thresholds{CPUPercent: 10})
	assert.Equal(t, StatusUnhealthy, r.Status)

	exec.set(catalog.CrashLogs(defaultLogLines),
		"05-01 11:59:58.000 E/AndroidRuntime( 4242): FATAL EXCEPTION: main Process: com.linknlink.app.device.isg\n")
	r = m.Check(context.Background(), Thresholds{})
	assert.Equal(t, StatusCrashed, r.Status)
	assert.True(t, r.NewCrash)

	r = m.Check(context.Background(), Thresholds{})
	assert.False(t, r.NewCrash, "same crash line is reported once")
	assert.Equal(t, StatusHealthy, r.Status)

	exec.set(catalog.Pidof(catalog.ISGPackage), "")
	r = m.Check(context.Background(), Thresholds{})
	assert.Equal(t, StatusNotRunning, r.Status)
	assert.Equal(t, 3, exec.called(catalog.AppMemInfo(catalog.ISGPackage)), "no memory query when not running")
	assert.True(t, m.ShouldRestart(80, 90, 3))

	exec.mu.Lock()
	delete(exec.outputs, catalog.Pidof(catalog.ISGPackage))
	exec.mu.Unlock()
	r = m.Check(context.Background(), Thresholds{})
	assert.Equal(t, StatusUnknown, r.Status)
	assert.False(t, m.ShouldRestart(80, 90, 3))
}

func TestRestartRecordsTrackerAndRespectsCooldown(t *testing.T) {
	exec := newStubExec()
	healthyISG(exec)
	exec.set(catalog.Pidof(catalog.ISGPackage), "")
	exec.set(catalog.ForceStop(catalog.ISGPackage), "")
	exec.set(catalog.ForceStart(catalog.ISGMainActivity), "Starting: Intent { cmp=com.linknlink.app.device.isg/.MainActivity }")
	m, now := newTestMonitor(t, exec)
	ctx := context.Background()

	m.Check(ctx, Thresholds{})
	require.True(t, m.ShouldRestart(80, 90, 3))
	require.True(t, m.Restart(ctx))
	assert.Equal(t, 1, m.Tracker().Count)

	m.Check(ctx, Thresholds{})
	assert.False(t, m.ShouldRestart(80, 90, 3), "inside cooldown")

	*now = now.Add(DefaultCooldown)
	assert.True(t, m.ShouldRestart(80, 90, 3))
	assert.False(t, m.ShouldRestart(80, 90, 1), "attempt cap")
}

func TestSetCooldown(t *testing.T) {
	exec := newStubExec()
	healthyISG(exec)
	exec.set(catalog.Pidof(catalog.ISGPackage), "")
	m, now := newTestMonitor(t, exec)
	ctx := context.Background()

	m.SetCooldown(time.Minute)
	m.Check(ctx, Thresholds{})
	m.RecordRestart(*now)
	*now = now.Add(30 * time.Second)
	assert.False(t, m.ShouldRestart(80, 90, 3))
	*now = now.Add(time.Minute)
	assert.True(t, m.ShouldRestart(80, 90, 3))

	m.SetCooldown(0)
	assert.False(t, m.ShouldRestart(80, 90, 3), "zero restores the default cooldown")
}

func TestForceStartDetectsMissingActivity(t *testing.T) {
	exec := newStubExec()
	exec.set(catalog.ForceStart(catalog.ISGMainActivity), "Error: Activity class {com.linknlink.app.device.isg/.MainActivity} does not exist.")
	m, _ := newTestMonitor(t, exec)
	assert.False(t, m.ForceStart(context.Background()))
}

func TestLogsFilterByPackage(t *testing.T) {
	exec := newStubExec()
	exec.set(catalog.CmdANRLogs, "05-01 11:00:00.000 E/ActivityManager( 500): ANR in com.linknlink.app.device.isg\n05-01 11:00:01.000 E/ActivityManager( 500): ANR in com.other\n")
	exec.set(catalog.AppLogs(catalog.ISGPackage, 20), "line one\n\nline two\n")
	m, _ := newTestMonitor(t, exec)

	assert.Len(t, m.ANRLogs(context.Background()), 1)
	assert.Equal(t, []string{"line one", "line two"}, m.Logs(context.Background(), 20))
}
