package tvboxagent

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/httprunner/TVBoxAgent/internal/state"
	"github.com/rs/zerolog/log"
)

// send runs a write command. Writes are never cached.
func (c *Coordinator) send(ctx context.Context, command string) bool {
	res := c.mgr.Execute(ctx, command, false)
	if !res.Success {
		log.Warn().Str("device", c.DeviceID()).Str("command", command).
			Str("error", string(res.Error)).Str("stderr", res.Stderr).Msg("action command failed")
	}
	return res.Success
}

func (c *Coordinator) key(ctx context.Context, code int) bool {
	return c.send(ctx, catalog.KeyEvent(code))
}

// settle waits d and then runs refresh; ok reports whether the wait completed.
func (c *Coordinator) settle(ctx context.Context, d time.Duration, refresh ...func(context.Context)) bool {
	if err := c.sleep(ctx, d); err != nil {
		return false
	}
	for _, fn := range refresh {
		fn(ctx)
	}
	return true
}

func (c *Coordinator) recordAction(ctx context.Context, name string, ok bool) {
	c.recordEvent(ctx, eventlog.Event{Kind: eventlog.KindAction, Name: name, Success: ok})
}

// finishAction records and publishes the outcome of an action.
func (c *Coordinator) finishAction(ctx context.Context, name string, ok bool) bool {
	c.recordAction(ctx, name, ok)
	c.publish(ctx)
	log.Info().Str("device", c.DeviceID()).Str("action", name).Bool("success", ok).Msg("action done")
	return ok
}

// volume actions

func (c *Coordinator) volumeKey(ctx context.Context, name string, code int) bool {
	if !c.key(ctx, code) {
		return c.finishAction(ctx, name, false)
	}
	c.settle(ctx, volumeSettle, c.updateVolume)
	return c.finishAction(ctx, name, true)
}

// VolumeUp raises the music stream by one step.
func (c *Coordinator) VolumeUp(ctx context.Context) bool {
	return c.volumeKey(ctx, "volume_up", catalog.KeyVolumeUp)
}

// VolumeDown lowers the music stream by one step.
func (c *Coordinator) VolumeDown(ctx context.Context) bool {
	return c.volumeKey(ctx, "volume_down", catalog.KeyVolumeDown)
}

// ToggleMute flips the mute state and checks that it changed.
func (c *Coordinator) ToggleMute(ctx context.Context) bool {
	before := c.Snapshot().Muted
	if !c.key(ctx, catalog.KeyVolumeMute) {
		return c.finishAction(ctx, "toggle_mute", false)
	}
	c.settle(ctx, volumeSettle, c.updateVolume)
	return c.finishAction(ctx, "toggle_mute", c.Snapshot().Muted != before)
}

// SetVolumePercent maps percent onto the stream range and sets it.
func (c *Coordinator) SetVolumePercent(ctx context.Context, percent float64) bool {
	percent = math.Max(0, math.Min(100, percent))
	c.updateVolume(ctx)
	snap := c.Snapshot()
	if snap.VolumeMax <= snap.VolumeMin {
		log.Warn().Str("device", c.DeviceID()).Msg("volume range unknown, cannot set percent")
		return c.finishAction(ctx, "set_volume", false)
	}
	level := snap.VolumeMin + int(math.Round(percent/100*float64(snap.VolumeMax-snap.VolumeMin)))
	if !c.send(ctx, catalog.SetVolume(level)) && !c.send(ctx, catalog.SetVolumeFallback(level)) {
		return c.finishAction(ctx, "set_volume", false)
	}
	c.settle(ctx, volumeSettle, c.updateVolume)
	return c.finishAction(ctx, "set_volume", c.Snapshot().VolumeLevel == level)
}

// media actions

// MediaPlay resumes playback. A paused or stopped session gets an explicit
// PLAY; anything else gets PLAY_PAUSE.
func (c *Coordinator) MediaPlay(ctx context.Context) bool {
	c.updateMedia(ctx)
	code := catalog.KeyMediaPlayPause
	if m := c.Snapshot().Media; m == catalog.MediaPaused || m == catalog.MediaStopped {
		code = catalog.KeyMediaPlay
	}
	if !c.key(ctx, code) {
		return c.finishAction(ctx, "media_play", false)
	}
	c.settle(ctx, mediaPlaySettle, c.updateMedia)
	return c.finishAction(ctx, "media_play", c.Snapshot().Media == catalog.MediaPlaying)
}

// MediaPause pauses playback.
func (c *Coordinator) MediaPause(ctx context.Context) bool {
	if !c.key(ctx, catalog.KeyMediaPause) {
		return c.finishAction(ctx, "media_pause", false)
	}
	c.settle(ctx, mediaPauseSettle, c.updateMedia)
	return c.finishAction(ctx, "media_pause", c.Snapshot().Media != catalog.MediaPlaying)
}

// MediaStop stops playback.
func (c *Coordinator) MediaStop(ctx context.Context) bool {
	if !c.key(ctx, catalog.KeyMediaStop) {
		return c.finishAction(ctx, "media_stop", false)
	}
	c.settle(ctx, mediaPauseSettle, c.updateMedia)
	return c.finishAction(ctx, "media_stop", c.Snapshot().Media != catalog.MediaPlaying)
}

// MediaNext skips to the next track.
func (c *Coordinator) MediaNext(ctx context.Context) bool {
	ok := c.key(ctx, catalog.KeyMediaNext)
	if ok {
		c.settle(ctx, mediaPauseSettle, c.updateMedia)
	}
	return c.finishAction(ctx, "media_next", ok)
}

// MediaPrevious goes back one track.
func (c *Coordinator) MediaPrevious(ctx context.Context) bool {
	ok := c.key(ctx, catalog.KeyMediaPrevious)
	if ok {
		c.settle(ctx, mediaPauseSettle, c.updateMedia)
	}
	return c.finishAction(ctx, "media_previous", ok)
}

// power actions

// PowerOn wakes the box, falling back to the power toggle.
func (c *Coordinator) PowerOn(ctx context.Context) bool {
	isOn := func() bool { return c.Snapshot().Power == state.PowerOn }
	if c.key(ctx, catalog.KeyWakeup) && c.settle(ctx, powerOnSettle, c.updatePower) && isOn() {
		return c.finishAction(ctx, "power_on", true)
	}
	log.Info().Str("device", c.DeviceID()).Msg("wakeup key had no effect, try power toggle")
	if c.key(ctx, catalog.KeyPower) && c.settle(ctx, powerOnSettle, c.updatePower) && isOn() {
		return c.finishAction(ctx, "power_on", true)
	}
	return c.finishAction(ctx, "power_on", false)
}

// PowerOff puts the box to sleep and waits until it reports off.
func (c *Coordinator) PowerOff(ctx context.Context) bool {
	if !c.key(ctx, catalog.KeySleep) && !c.key(ctx, catalog.KeyPower) {
		return c.finishAction(ctx, "power_off", false)
	}
	if !c.settle(ctx, powerOffSettle) {
		return c.finishAction(ctx, "power_off", false)
	}
	for i := 0; i < powerOffRetries; i++ {
		if i > 0 && !c.settle(ctx, powerOffRetryDelay) {
			break
		}
		c.updatePower(ctx)
		if c.Snapshot().Power != state.PowerOn {
			return c.finishAction(ctx, "power_off", true)
		}
	}
	return c.finishAction(ctx, "power_off", false)
}

// apps and navigation

// StartApp launches a configured app name or a package.
func (c *Coordinator) StartApp(ctx context.Context, nameOrPackage string) bool {
	pkg, ok := catalog.ResolveApp(c.Options().Apps, nameOrPackage)
	if !ok {
		log.Warn().Str("device", c.DeviceID()).Str("app", nameOrPackage).Msg("unknown app")
		return c.finishAction(ctx, "start_app", false)
	}
	if !c.send(ctx, catalog.StartApp(pkg)) {
		return c.finishAction(ctx, "start_app", false)
	}
	c.settle(ctx, appStartSettle, c.updateCurrentApp)
	return c.finishAction(ctx, "start_app", c.Snapshot().CurrentPackage == pkg)
}

// SetBrightnessPercent sets the screen brightness.
func (c *Coordinator) SetBrightnessPercent(ctx context.Context, percent float64) bool {
	percent = math.Max(0, math.Min(100, percent))
	raw := int(math.Round(percent / 100 * 255))
	if !c.send(ctx, catalog.SetBrightness(raw)) {
		return c.finishAction(ctx, "set_brightness", false)
	}
	c.settle(ctx, brightnessSettle, c.updateBrightness)
	return c.finishAction(ctx, "set_brightness", c.Snapshot().BrightnessRaw == raw)
}

// Navigate presses a remote-control key such as up, back or home.
func (c *Coordinator) Navigate(ctx context.Context, name string) bool {
	code, ok := catalog.NavigationKeys[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		log.Warn().Str("device", c.DeviceID()).Str("key", name).Msg("unknown navigation key")
		return false
	}
	if err := c.nav.Wait(ctx); err != nil {
		log.Warn().Err(err).Str("device", c.DeviceID()).Str("key", name).Msg("navigation rate wait aborted")
		return false
	}
	ok = c.key(ctx, code)
	c.recordAction(ctx, "navigate_"+name, ok)
	return ok
}

// CastMedia opens target in the app for kind and checks it came to the front.
func (c *Coordinator) CastMedia(ctx context.Context, kind catalog.CastKind, target string) bool {
	command, expected, err := catalog.CastIntent(kind, target)
	if err != nil {
		log.Warn().Err(err).Str("device", c.DeviceID()).Msg("invalid cast request")
		return c.finishAction(ctx, "cast", false)
	}
	if !c.send(ctx, command) {
		return c.finishAction(ctx, "cast", false)
	}
	c.settle(ctx, castSettle, c.updateCurrentApp)
	snap := c.Snapshot()
	verified := expected == "" || snap.CurrentPackage == expected
	c.mu.Lock()
	c.snap.RecordCast(state.Cast{
		Kind:     kind,
		Target:   target,
		Package:  snap.CurrentPackage,
		Verified: verified,
		At:       c.now(),
	})
	c.mu.Unlock()
	return c.finishAction(ctx, "cast", verified)
}

// TakeScreenshot captures the screen into the snapshot and the local store.
func (c *Coordinator) TakeScreenshot(ctx context.Context) bool {
	data := c.mgr.ScreenshotBytes(ctx)
	ok := len(data) > 0
	var path string
	if ok {
		now := c.now()
		c.mu.Lock()
		c.snap.RecordScreenshot(data, now)
		c.mu.Unlock()
		if c.shots != nil {
			p, err := c.shots.Save(data, now, c.Options().ScreenshotKeep)
			if err != nil {
				log.Warn().Err(err).Str("device", c.DeviceID()).Msg("save screenshot failed")
			}
			path = p
		}
	}
	c.recordEvent(ctx, eventlog.Event{Kind: eventlog.KindScreenshot, Name: "capture", Success: ok, Message: path})
	c.publish(ctx)
	return ok
}
