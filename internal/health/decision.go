package health

import "time"

// Defaults for the restart decision.
const (
	DefaultMemoryThreshold = 80.0
	DefaultCPUThreshold    = 90.0
	DefaultMaxAttempts     = 3
	DefaultCooldown        = 5 * time.Minute
)

// Status is the composite health of a monitored app.
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusUnhealthy  Status = "unhealthy"
	StatusCrashed    Status = "crashed"
	StatusNotRunning Status = "not_running"
	StatusUnknown    Status = "unknown"
)

// RestartTracker counts restarts within one session of the agent.
type RestartTracker struct {
	Count       int       `json:"count"`
	LastRestart time.Time `json:"last_restart"`
}

// Record notes a successful restart at now.
func (t *RestartTracker) Record(now time.Time) {
	t.Count++
	t.LastRestart = now
}

// DecisionInput is everything ShouldRestart looks at.
type DecisionInput struct {
	Running       bool
	Status        Status
	MemoryPercent float64
	CPUPercent    float64
	NewCrash      bool

	Tracker RestartTracker
	Now     time.Time

	MemoryThreshold float64
	CPUThreshold    float64
	MaxAttempts     int
	Cooldown        time.Duration
}

// ShouldRestart is the single restart policy used by the polling loop and by
// PackageMonitor. The attempt cap and the cooldown are checked before anything
// else, so even a dead app is left alone once either applies.
func ShouldRestart(in DecisionInput) bool {
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	cooldown := in.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	memThr, cpuThr := in.MemoryThreshold, in.CPUThreshold
	if memThr <= 0 {
		memThr = DefaultMemoryThreshold
	}
	if cpuThr <= 0 {
		cpuThr = DefaultCPUThreshold
	}
	if in.Tracker.Count >= maxAttempts {
		return false
	}
	if !in.Tracker.LastRestart.IsZero() && in.Now.Sub(in.Tracker.LastRestart) < cooldown {
		return false
	}
	if !in.Running {
		return true
	}
	if in.Status == StatusUnhealthy || in.Status == StatusCrashed {
		if in.MemoryPercent > memThr || in.CPUPercent > cpuThr {
			return true
		}
	}
	return in.NewCrash
}
