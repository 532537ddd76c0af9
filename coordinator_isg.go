package tvboxagent

import (
	"context"
	"fmt"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/httprunner/TVBoxAgent/internal/health"
	"github.com/rs/zerolog/log"
)

// superviseISG checks the companion app and restarts it when the shared
// policy says so.
func (c *Coordinator) superviseISG(ctx context.Context, opts Options) {
	report, newCrash, ok := c.checkISG(ctx, opts)
	if !ok || !opts.ISGAutoRestart {
		return
	}
	decision := health.ShouldRestart(health.DecisionInput{
		Running:         report.Running,
		Status:          report.Status,
		MemoryPercent:   report.MemoryPercent,
		CPUPercent:      report.CPUPercent,
		NewCrash:        newCrash,
		Tracker:         c.monitor.Tracker(),
		Now:             c.now(),
		MemoryThreshold: opts.MemoryThreshold,
		CPUThreshold:    opts.CPUThreshold,
		MaxAttempts:     opts.MaxRestartAttempts,
		Cooldown:        opts.RestartCooldown,
	})
	if !decision {
		return
	}
	log.Warn().Str("device", c.DeviceID()).Str("status", string(report.Status)).
		Float64("memory_percent", report.MemoryPercent).Float64("cpu_percent", report.CPUPercent).
		Int("attempts", c.monitor.Tracker().Count).Msg("isg auto restart")
	c.restartISG(ctx, "auto", string(report.Status))
}

// checkISG runs a health check and folds it into the snapshot. ok is false
// when the device could not be queried; the snapshot keeps its old values.
func (c *Coordinator) checkISG(ctx context.Context, opts Options) (health.Report, bool, bool) {
	report := c.monitor.Check(ctx, health.Thresholds{
		MemoryPercent: opts.MemoryThreshold,
		CPUPercent:    opts.CPUThreshold,
	})
	if report.Status == health.StatusUnknown {
		log.Debug().Str("device", c.DeviceID()).Msg("isg health unknown, keep previous values")
		return report, false, false
	}
	c.mu.Lock()
	newCrash := c.snap.UpdateISGHealth(report, c.now())
	c.mu.Unlock()
	if newCrash {
		c.recordEvent(ctx, eventlog.Event{Kind: eventlog.KindCrash, Name: report.Package, Message: report.CrashLine})
	}
	return report, newCrash, true
}

// restartISG runs the monitor's restart and mirrors the tracker.
func (c *Coordinator) restartISG(ctx context.Context, trigger, reason string) bool {
	ok := c.monitor.Restart(ctx)
	c.mu.Lock()
	c.snap.RecordRestart(c.monitor.Tracker())
	c.mu.Unlock()
	c.recordEvent(ctx, eventlog.Event{
		Kind:    eventlog.KindRestart,
		Name:    trigger,
		Success: ok,
		Message: fmt.Sprintf("reason=%s attempts=%d", reason, c.monitor.Tracker().Count),
	})
	return ok
}

// RestartISG restarts the companion app on request. It counts toward the
// automatic restart limit.
func (c *Coordinator) RestartISG(ctx context.Context) bool {
	ok := c.restartISG(ctx, "manual", "user")
	return c.afterISGAction(ctx, ok, isgRestartSettle)
}

// StartISG starts the companion app without stopping it first.
func (c *Coordinator) StartISG(ctx context.Context) bool {
	ok := c.monitor.ForceStart(ctx)
	c.recordAction(ctx, "isg_start", ok)
	return c.afterISGAction(ctx, ok, isgRestartSettle)
}

// StopISG force-stops the companion app.
func (c *Coordinator) StopISG(ctx context.Context) bool {
	ok := c.monitor.ForceStop(ctx)
	c.recordAction(ctx, "isg_stop", ok)
	return c.afterISGAction(ctx, ok, isgStopSettle)
}

// ClearISGCache wipes the app data and starts it again.
func (c *Coordinator) ClearISGCache(ctx context.Context) bool {
	ok := c.monitor.ClearCache(ctx)
	c.recordAction(ctx, "isg_clear_cache", ok)
	if !ok {
		return false
	}
	if err := c.sleep(ctx, isgClearSettle); err != nil {
		return false
	}
	started := c.monitor.ForceStart(ctx)
	if started {
		c.monitor.RecordRestart(c.now())
		c.mu.Lock()
		c.snap.RecordRestart(c.monitor.Tracker())
		c.mu.Unlock()
	}
	return c.afterISGAction(ctx, started, isgRestartSettle)
}

// ISGLogs returns the companion app's recent log lines.
func (c *Coordinator) ISGLogs(ctx context.Context, lines int) []string {
	return c.monitor.Logs(ctx, lines)
}

// ISGCrashLogs returns crash-buffer lines of the companion app.
func (c *Coordinator) ISGCrashLogs(ctx context.Context, lines int) []string {
	return c.monitor.CrashLogs(ctx, lines)
}

func (c *Coordinator) afterISGAction(ctx context.Context, ok bool, settle time.Duration) bool {
	if !ok {
		return false
	}
	if err := c.sleep(ctx, settle); err != nil {
		return false
	}
	c.checkISG(ctx, c.Options())
	c.publish(ctx)
	return true
}
