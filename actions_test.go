package tvboxagent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/httprunner/TVBoxAgent/internal/health"
	"github.com/httprunner/TVBoxAgent/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleMute(t *testing.T) {
	cmd := onlineBox()
	coord, _, events, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, coord.Refresh(ctx))

	cmd.set(catalog.KeyEvent(catalog.KeyVolumeMute), "")
	cmd.on(catalog.KeyEvent(catalog.KeyVolumeMute), func() { cmd.set(catalog.CmdAudioDump, muted(true)) })
	assert.True(t, coord.ToggleMute(ctx))
	assert.True(t, coord.Snapshot().Muted)

	cmd.on(catalog.KeyEvent(catalog.KeyVolumeMute), func() {})
	assert.False(t, coord.ToggleMute(ctx), "no change is reported as failure")

	actions := events.kinds(eventlog.KindAction)
	require.Len(t, actions, 2)
	assert.Equal(t, "toggle_mute", actions[0].Name)
	assert.True(t, actions[0].Success)
	assert.False(t, actions[1].Success)
}

func TestSetVolumePercent(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, published := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()

	// 50% of [0..15] rounds to 8
	cmd.set(catalog.SetVolume(8), "")
	cmd.on(catalog.SetVolume(8), func() { cmd.set(catalog.CmdVolumeGet, "volume is 8 in range [0..15]") })
	assert.True(t, coord.SetVolumePercent(ctx, 50))
	assert.Equal(t, 8, coord.Snapshot().VolumeLevel)
	assert.NotEmpty(t, *published)

	cmd.set(catalog.SetVolumeFallback(15), "")
	cmd.on(catalog.SetVolumeFallback(15), func() { cmd.set(catalog.CmdVolumeGet, "volume is 15 in range [0..15]") })
	assert.True(t, coord.SetVolumePercent(ctx, 150), "percent is clamped and the fallback command used")
	assert.Equal(t, 1, cmd.called(catalog.SetVolume(15)))
	assert.Equal(t, 15, coord.Snapshot().VolumeLevel)
}

func TestSetVolumePercentUnknownRange(t *testing.T) {
	cmd := onlineBox()
	cmd.set(catalog.CmdVolumeGet, "volume is 0 in range [0..0]")
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	assert.False(t, coord.SetVolumePercent(context.Background(), 40))
}

func TestMediaPlaySendsPlayForPausedSession(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	play := catalog.KeyEvent(catalog.KeyMediaPlay)
	cmd.set(play, "")
	cmd.on(play, func() { cmd.set(catalog.CmdMediaSession, mediaPlay) })

	assert.True(t, coord.MediaPlay(context.Background()))
	assert.Equal(t, catalog.MediaPlaying, coord.Snapshot().Media)
	assert.Equal(t, 0, cmd.called(catalog.KeyEvent(catalog.KeyMediaPlayPause)))
}

func TestMediaPause(t *testing.T) {
	cmd := onlineBox()
	cmd.set(catalog.CmdMediaSession, mediaPlay)
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	pause := catalog.KeyEvent(catalog.KeyMediaPause)
	cmd.set(pause, "")

	assert.False(t, coord.MediaPause(context.Background()), "still playing")
	cmd.on(pause, func() { cmd.set(catalog.CmdMediaSession, mediaPaused) })
	assert.True(t, coord.MediaPause(context.Background()))
}

func TestPowerOff(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, coord.Refresh(ctx))

	sleep := catalog.KeyEvent(catalog.KeySleep)
	cmd.set(sleep, "")
	assert.False(t, coord.PowerOff(ctx))
	assert.Equal(t, 1+powerOffRetries, cmd.called(catalog.CmdPowerDump), "power is re-checked on every retry")

	cmd.on(sleep, func() { cmd.set(catalog.CmdPowerDump, powerAsleep) })
	assert.True(t, coord.PowerOff(ctx))
	assert.Equal(t, state.PowerOff, coord.Snapshot().Power)
}

func TestPowerOnFallsBackToPowerKey(t *testing.T) {
	cmd := onlineBox()
	cmd.set(catalog.CmdPowerDump, powerAsleep)
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	cmd.set(catalog.KeyEvent(catalog.KeyWakeup), "")
	power := catalog.KeyEvent(catalog.KeyPower)
	cmd.set(power, "")
	cmd.on(power, func() { cmd.set(catalog.CmdPowerDump, powerAwake) })

	assert.True(t, coord.PowerOn(context.Background()))
	assert.Equal(t, 1, cmd.called(power))
	assert.Equal(t, state.PowerOn, coord.Snapshot().Power)
}

func TestStartApp(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()
	start := catalog.StartApp(catalog.DefaultApps["YouTube"])
	cmd.set(start, "")
	cmd.on(start, func() {
		cmd.set(catalog.CmdCurrentActivity, "  mResumedActivity: ActivityRecord{1 u0 com.google.android.youtube.tv/com.google.android.apps.youtube.tv.activity.ShellActivity t3}\n")
	})

	assert.True(t, coord.StartApp(ctx, "youtube"))
	snap := coord.Snapshot()
	assert.Equal(t, "com.google.android.youtube.tv", snap.CurrentPackage)
	assert.Equal(t, "YouTube", snap.CurrentAppName)

	assert.False(t, coord.StartApp(ctx, "nosuchapp"))
}

func TestSetBrightnessPercent(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	set := catalog.SetBrightness(255)
	cmd.set(set, "")
	cmd.on(set, func() { cmd.set(catalog.CmdBrightnessGet, "255") })

	assert.True(t, coord.SetBrightnessPercent(context.Background(), 100))
	assert.InDelta(t, 100.0, coord.Snapshot().BrightnessPercent, 0.01)
}

func TestNavigate(t *testing.T) {
	cmd := onlineBox()
	coord, _, events, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()
	cmd.set(catalog.KeyEvent(catalog.KeyBack), "")

	assert.True(t, coord.Navigate(ctx, "Back"))
	assert.False(t, coord.Navigate(ctx, "teleport"))
	actions := events.kinds(eventlog.KindAction)
	require.Len(t, actions, 1)
	assert.Equal(t, "navigate_Back", actions[0].Name)
}

func TestCastMedia(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()

	intent, expected, err := catalog.CastIntent(catalog.CastNetflix, "80100172")
	require.NoError(t, err)
	cmd.set(intent, "")
	assert.True(t, coord.CastMedia(ctx, catalog.CastNetflix, "80100172"))
	c := coord.Snapshot().Cast
	assert.True(t, c.Verified)
	assert.Equal(t, expected, c.Package)
	assert.Equal(t, "80100172", c.Target)

	intent, _, err = catalog.CastIntent(catalog.CastYouTube, "dQw4w9WgXcQ")
	require.NoError(t, err)
	cmd.set(intent, "")
	assert.False(t, coord.CastMedia(ctx, catalog.CastYouTube, "dQw4w9WgXcQ"), "netflix stayed in front")
	assert.False(t, coord.Snapshot().Cast.Verified)

	assert.False(t, coord.CastMedia(ctx, catalog.CastURL, "not a url"))
}

func TestTakeScreenshot(t *testing.T) {
	cmd := onlineBox()
	shots, err := NewScreenshotStore(t.TempDir())
	require.NoError(t, err)
	clock := &testClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	events := &memoryEvents{}
	coord, err := NewCoordinator(Config{
		Commander:   cmd,
		Options:     DefaultOptions(),
		Events:      events,
		Screenshots: shots,
		Now:         clock.Now,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, coord.TakeScreenshot(ctx), "empty capture fails")

	cmd.mu.Lock()
	cmd.screenshot = []byte("\x89PNG fake")
	cmd.mu.Unlock()
	assert.True(t, coord.TakeScreenshot(ctx))
	snap := coord.Snapshot()
	assert.Equal(t, []byte("\x89PNG fake"), snap.Screenshot)
	assert.Equal(t, clock.Now(), snap.ScreenshotAt)

	files, err := shots.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, snap.Screenshot, data)

	captures := events.kinds(eventlog.KindScreenshot)
	require.Len(t, captures, 2)
	assert.Equal(t, files[0], captures[1].Message)
}

func TestRestartISGCountsTowardLimit(t *testing.T) {
	cmd := onlineBox()
	coord, _, events, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()

	assert.True(t, coord.RestartISG(ctx))
	snap := coord.Snapshot()
	assert.Equal(t, 1, snap.ISG.RestartCount)
	assert.Equal(t, health.StatusHealthy, snap.ISG.Status)

	restarts := events.kinds(eventlog.KindRestart)
	require.Len(t, restarts, 1)
	assert.Equal(t, "manual", restarts[0].Name)
}

func TestClearISGCache(t *testing.T) {
	cmd := onlineBox()
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())
	ctx := context.Background()

	assert.False(t, coord.ClearISGCache(ctx), "pm clear not answered")
	assert.Equal(t, 0, coord.Snapshot().ISG.RestartCount)

	cmd.set(catalog.ClearData(catalog.ISGPackage), "Success")
	assert.True(t, coord.ClearISGCache(ctx))
	assert.Equal(t, 1, cmd.called(catalog.ForceStart(catalog.ISGMainActivity)))
	assert.Equal(t, 1, coord.Snapshot().ISG.RestartCount)
}

func TestISGCrashLogs(t *testing.T) {
	cmd := onlineBox()
	cmd.set(catalog.CrashLogs(20), "03-01 E/AndroidRuntime: FATAL EXCEPTION Process: com.linknlink.app.device.isg\n03-01 E/AndroidRuntime: FATAL EXCEPTION Process: com.other.app\n")
	coord, _, _, _ := newTestCoordinator(t, cmd, DefaultOptions())

	lines := coord.ISGCrashLogs(context.Background(), 20)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], catalog.ISGPackage)
}
