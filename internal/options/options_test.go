package options

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	src, err := ParseJSON([]byte(`{
		"host": " 192.168.1.20 ",
		"port": 5555,
		"isg_auto_restart": false,
		"isg_cpu_threshold": 85.5,
		"update_interval": null,
		"unknown": "ignored",
		"apps": {"Kodi": "org.xbmc.kodi", "": "x"},
		"visible": ["Kodi", "YouTube"]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", src.Values[KeyHost])
	assert.Equal(t, "5555", src.Values[KeyPort])
	assert.Equal(t, "false", src.Values[KeyISGAutoRestart])
	assert.Equal(t, "85.5", src.Values[KeyISGCPUThreshold])
	_, ok := src.Get(KeyUpdateInterval)
	assert.False(t, ok)
	_, ok = src.Get("unknown")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"Kodi": "org.xbmc.kodi"}, src.Apps)
	assert.Equal(t, []string{"Kodi", "YouTube"}, src.Visible)

	_, err = ParseJSON([]byte(`{"host": `))
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestMergeOverridesPerKey(t *testing.T) {
	base := Source{Values: map[string]string{KeyHost: "a", KeyPort: "5555"}, Apps: map[string]string{"A": "a.pkg"}}
	over := Source{Values: map[string]string{KeyHost: "b"}}
	merged := base.Merge(over)
	assert.Equal(t, "b", merged.Values[KeyHost])
	assert.Equal(t, "5555", merged.Values[KeyPort])
	assert.Equal(t, base.Apps, merged.Apps)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TVBOX_HOST", "10.0.0.9")
	t.Setenv("TVBOX_SKIP_WHEN_OFFLINE", "false")
	t.Setenv("TVBOX_APPS", "Kodi=org.xbmc.kodi, bad ,Plex=com.plexapp.android")
	t.Setenv("TVBOX_VISIBLE", "Kodi,,Plex")

	src := FromEnv()
	assert.Equal(t, "10.0.0.9", src.Values[KeyHost])
	assert.Equal(t, "false", src.Values[KeySkipWhenOffline])
	assert.Equal(t, map[string]string{"Kodi": "org.xbmc.kodi", "Plex": "com.plexapp.android"}, src.Apps)
	assert.Equal(t, []string{"Kodi", "Plex"}, src.Visible)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"isg_cpu_threshold": 70}`), 0o644))

	got := make(chan Source, 4)
	w := NewWatcher(path, func(s Source) { got <- s })
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// wait until the watcher is registered
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.watcher != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"isg_cpu_threshold": 95}`), 0o644))
	select {
	case src := <-got:
		assert.Equal(t, "95", src.Values[KeyISGCPUThreshold])
	case <-time.After(5 * time.Second):
		t.Fatal("options were not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
}
