package health

import (
	"testing"
	"time"
)

func TestShouldRestart(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := DecisionInput{
		Running:         true,
		Status:          StatusHealthy,
		Now:             now,
		MemoryThreshold: 80,
		CPUThreshold:    90,
		MaxAttempts:     3,
		Cooldown:        5 * time.Minute,
	}

	cases := []struct {
		name   string
		mutate func(*DecisionInput)
		want   bool
	}{
		{"healthy", func(*DecisionInput) {}, false},
		{"not running", func(in *DecisionInput) { in.Running = false; in.Status = StatusNotRunning }, true},
		{"unhealthy over memory", func(in *DecisionInput) { in.Status = StatusUnhealthy; in.MemoryPercent = 85 }, true},
		{"unhealthy over cpu", func(in *DecisionInput) { in.Status = StatusUnhealthy; in.CPUPercent = 95 }, true},
		{"unhealthy under thresholds", func(in *DecisionInput) { in.Status = StatusUnhealthy; in.MemoryPercent = 50 }, false},
		{"healthy over threshold", func(in *DecisionInput) { in.MemoryPercent = 99 }, false},
		{"new crash", func(in *DecisionInput) { in.Status = StatusCrashed; in.NewCrash = true }, true},
		{"attempt cap beats not running", func(in *DecisionInput) {
			in.Running = false
			in.Tracker = RestartTracker{Count: 3, LastRestart: now.Add(-time.Hour)}
		}, false},
		{"cooldown beats not running", func(in *DecisionInput) {
			in.Running = false
			in.Tracker = RestartTracker{Count: 1, LastRestart: now.Add(-4 * time.Minute)}
		}, false},
		{"cooldown elapsed", func(in *DecisionInput) {
			in.Running = false
			in.Tracker = RestartTracker{Count: 1, LastRestart: now.Add(-5 * time.Minute)}
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			if got := ShouldRestart(in); got != tc.want {
				t.Fatalf("ShouldRestart = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestShouldRestartCapAfterMaxAttempts(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var tracker RestartTracker
	now := start
	for i := 0; i < 3; i++ {
		in := DecisionInput{Running: false, Status: StatusNotRunning, Tracker: tracker, Now: now, MaxAttempts: 3}
		if !ShouldRestart(in) {
			t.Fatalf("attempt %d: expected restart", i+1)
		}
		tracker.Record(now)
		now = now.Add(10 * time.Minute)
	}
	in := DecisionInput{Running: false, Status: StatusNotRunning, Tracker: tracker, Now: now.Add(24 * time.Hour), MaxAttempts: 3}
	if ShouldRestart(in) {
		t.Fatalf("expected no restart after %d attempts", tracker.Count)
	}
}
