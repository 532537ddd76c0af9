package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVolume(t *testing.T) {
	cases := []struct {
		name          string
		in            string
		cur, min, max int
		ok            bool
	}{
		{"plain", "volume is 8 in range [0..15]", 8, 0, 15, true},
		{"with prefix", "[v] Stream 3: volume is 10 in range [0..15]\n", 10, 0, 15, true},
		{"non zero min", "volume is 3 in range [1..25]", 3, 1, 25, true},
		{"garbage", "Error: unknown command", 0, 0, 0, false},
		{"empty", "", 0, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cur, min, max, ok := ParseVolume(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.cur, cur)
			assert.Equal(t, tc.min, min)
			assert.Equal(t, tc.max, max)
		})
	}
}

const audioDumpMuted = `Stream volumes (device: index)
- STREAM_VOICE_CALL:
   Muted: false
   Min: 1
- STREAM_MUSIC:
   Muted: true
   Muted Internally: false
   Min: 0
   Max: 15
   Current: 2 (speaker): 8
- STREAM_ALARM:
   Muted: false
`

func TestParseMuted(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"music block muted", audioDumpMuted, true},
		{"other stream muted only", "- STREAM_MUSIC:\n   Muted: false\n- STREAM_RING:\n   Muted: true\n", false},
		{"no music block", "- STREAM_RING:\n   Muted: true\n", false},
		{"music without muted line", "- STREAM_MUSIC:\n   Min: 0\n", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseMuted(tc.in))
		})
	}
}

func TestParsePower(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		wake   Wakefulness
		screen bool
	}{
		{"awake screen on", "Power Manager State:\n  mWakefulness=Awake\n  mScreenOn=true\n", WakefulnessAwake, true},
		{"asleep display off", "  mWakefulness=Asleep\nDisplay Power: state=OFF\n", WakefulnessAsleep, false},
		{"dreaming", "  mWakefulness=Dreaming\n  mDisplayPowerState=ON\n", WakefulnessDreaming, true},
		{"dozing is dreaming", "  getWakefulnessLocked()=Dozing\n", WakefulnessDreaming, false},
		{"unknown wake screen on", "  mScreenState=ON\n", WakefulnessUnknown, true},
		{"garbage", "cmd: Can't find service: power", WakefulnessUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wake, screen := ParsePower(tc.in)
			assert.Equal(t, tc.wake, wake)
			assert.Equal(t, tc.screen, screen)
		})
	}
}

const mediaDumpTwoSessions = `Sessions Stack - have 2 sessions:
    MediaSession com.spotify.music/spotify (userId=0)
      ownerPid=1234, ownerUid=10100, userId=0
      package=com.spotify.music
      active=false
      state=PlaybackState {state=PAUSED(2), position=1000, buffered position=0, speed=0.0}
    ExoPlayer com.google.android.youtube.tv/yt (userId=0)
      ownerPid=2345, ownerUid=10101, userId=0
      package=com.google.android.youtube.tv
      active=true
      state=PlaybackState {state=PLAYING(3), position=5000, buffered position=0, speed=1.0}
`

func TestParseMediaState(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want MediaState
	}{
		{"active session wins", mediaDumpTwoSessions, MediaPlaying},
		{"paused token", "package=a\nstate=PlaybackState {state=PAUSED(2), position=0}", MediaPaused},
		{"stopped token", "package=a\nstate=PlaybackState {state=STOPPED(1), position=0}", MediaStopped},
		{"numeric playing", "package=a\nstate=PlaybackState {state=3, position=0}", MediaPlaying},
		{"buffering is idle", "package=a\nstate=PlaybackState {state=BUFFERING(6), position=0}", MediaIdle},
		{"no sessions", "Sessions Stack - have 0 sessions:", MediaIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseMediaState(tc.in))
		})
	}
}

func TestParseWifi(t *testing.T) {
	assert.True(t, ParseWifiEnabled("1\n"))
	assert.False(t, ParseWifiEnabled("0"))
	assert.False(t, ParseWifiEnabled("null"))

	assert.Equal(t, "HomeNet 5G", ParseSSID(`mWifiInfo SSID: "HomeNet 5G", BSSID: aa:bb`))
	assert.Equal(t, "", ParseSSID(`SSID: "<unknown ssid>", BSSID: 02:00`))
	assert.Equal(t, "", ParseSSID("no wifi"))

	assert.Equal(t, "192.168.1.50", ParseIPv4("    inet 192.168.1.50/24 brd 192.168.1.255 scope global wlan0"))
	assert.Equal(t, "", ParseIPv4("Device \"wlan0\" does not exist."))
}

func TestParseCurrentActivity(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		pkg      string
		activity string
	}{
		{
			"top resumed with metadata",
			"  topResumedActivity=ActivityRecord{8c1a2b3 u0 com.google.android.youtube.tv/com.google.android.apps.youtube.tv.activity.ShellActivity t123}",
			"com.google.android.youtube.tv",
			"com.google.android.youtube.tv/com.google.android.apps.youtube.tv.activity.ShellActivity",
		},
		{
			"relative class",
			"    mResumedActivity: ActivityRecord{4f2e1 u0 com.linknlink.app.device.isg/.MainActivity t9}",
			"com.linknlink.app.device.isg",
			"com.linknlink.app.device.isg/com.linknlink.app.device.isg.MainActivity",
		},
		{"empty", "", "", ""},
		{"record without component", "topResumedActivity=ActivityRecord{abc u0}", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkg, activity := ParseCurrentActivity(tc.in)
			assert.Equal(t, tc.pkg, pkg)
			assert.Equal(t, tc.activity, activity)
		})
	}
}

func TestParsePropertiesAndIdentity(t *testing.T) {
	dump := "[ro.product.model]: [MiBOX4]\n[ro.product.manufacturer]: [Xiaomi]\n[ro.build.version.sdk=28]\n[ro.boot.serialno]: [ABC123]\ngarbage line\n"
	props := ParseProperties(dump)
	assert.Equal(t, "MiBOX4", props["ro.product.model"])
	assert.Equal(t, "28", props["ro.build.version.sdk"])

	id := IdentityFromProperties(props)
	assert.Equal(t, Identity{
		Model:          "MiBOX4",
		Manufacturer:   "Xiaomi",
		AndroidVersion: "Unknown",
		APILevel:       "28",
		Serial:         "ABC123",
	}, id)

	assert.Equal(t, "Unknown", IdentityFromProperties(ParseProperties("")).Model)
}

func TestParsePid(t *testing.T) {
	cases := []struct {
		in  string
		pid int
		ok  bool
	}{
		{"12345\n", 12345, true},
		{"12345 12346", 12345, true},
		{"", 0, false},
		{"pidof: not found", 0, false},
		{"0", 0, false},
	}
	for _, tc := range cases {
		pid, ok := ParsePid(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.pid, pid, tc.in)
	}
}

func TestParseMemInfoTotalKB(t *testing.T) {
	assert.Equal(t, 45678, ParseMemInfoTotalKB("  Native Heap  1000\n        TOTAL    45678    30000   200\n"))
	assert.Equal(t, 91234, ParseMemInfoTotalKB("           TOTAL PSS:    91234            TOTAL RSS:   150000"))
	assert.Equal(t, 0, ParseMemInfoTotalKB("No process found for: com.x"))
}

func TestParseProcessCPU(t *testing.T) {
	top := `Tasks: 1 total
  PID USER         PR  NI VIRT  RES  SHR S[%CPU] %MEM     TIME+ ARGS
 4321 u0_a87       10 -10 1.9G 120M  70M S 12.5   6.1   1:02.33 com.linknlink.app.device.isg`
	assert.InDelta(t, 12.5, ParseProcessCPU(top, ISGPackage), 0.001)
	assert.Equal(t, 0.0, ParseProcessCPU("NO_PID", ISGPackage))
	assert.Equal(t, 0.0, ParseProcessCPU(top, "com.other"))
}

func TestParseSystemCPUAndMemInfo(t *testing.T) {
	assert.InDelta(t, 25.0, ParseSystemCPU("400%cpu  50%user   0%nice  50%sys 300%idle   0%iow"), 0.001)
	assert.InDelta(t, 8.0, ParseSystemCPU("User 5%, System 3%, IOW 0%, IRQ 0%"), 0.001)
	assert.Equal(t, 0.0, ParseSystemCPU(""))

	total, avail := ParseMemInfo("MemTotal:        2048000 kB\nMemFree:          100000 kB\nMemAvailable:    1024000 kB\n")
	assert.Equal(t, 2048000, total)
	assert.Equal(t, 1024000, avail)

	total, avail = ParseMemInfo("MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 50 kB\nCached: 250 kB\n")
	assert.Equal(t, 1000, total)
	assert.Equal(t, 400, avail)
}

func TestParseBrightnessAndPackages(t *testing.T) {
	v, ok := ParseBrightness("128\n")
	assert.True(t, ok)
	assert.Equal(t, 128, v)
	_, ok = ParseBrightness("null")
	assert.False(t, ok)

	pkgs := ParseInstalledPackages("package:com.b\npackage:com.a\n\nWARNING: linker\n")
	assert.Equal(t, []string{"com.a", "com.b"}, pkgs)
}

func TestParseFileSize(t *testing.T) {
	assert.Equal(t, int64(123456), ParseFileSize("-rw-rw---- 1 root sdcard_rw 123456 2024-01-01 12:00 /sdcard/isgbackup/screenshot/latest.png"))
	assert.Equal(t, int64(0), ParseFileSize("-rw-rw----+ 1 u0_a1 everybody 0 2024-01-01 12:00 latest.png"))
	assert.Equal(t, int64(-1), ParseFileSize("ls: /sdcard/isgbackup/screenshot/latest.png: No such file or directory"))
}

func TestFilterLines(t *testing.T) {
	out := "01-01 10:00 E/AndroidRuntime: FATAL EXCEPTION in com.linknlink.app.device.isg\n01-01 10:01 E/AndroidRuntime: com.other crashed\n\n"
	assert.Len(t, FilterLines(out, ISGPackage), 1)
	assert.Len(t, FilterLines(out, ""), 2)
}
