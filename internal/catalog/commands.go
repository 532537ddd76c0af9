// Package catalog holds the fixed shell command templates sent to the box and
// the parser paired with each query.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Android key codes used by the controls.
const (
	KeyHome           = 3
	KeyBack           = 4
	KeyDpadUp         = 19
	KeyDpadDown       = 20
	KeyDpadLeft       = 21
	KeyDpadRight      = 22
	KeyDpadCenter     = 23
	KeyVolumeUp       = 24
	KeyVolumeDown     = 25
	KeyPower          = 26
	KeyMenu           = 82
	KeyMediaPlayPause = 85
	KeyMediaStop      = 86
	KeyMediaNext      = 87
	KeyMediaPrevious  = 88
	KeyMediaPlay      = 126
	KeyMediaPause     = 127
	KeyVolumeMute     = 164
	KeySleep          = 223
	KeyWakeup         = 224
)

// NavigationKeys maps the navigation control names to key codes.
var NavigationKeys = map[string]int{
	"up":     KeyDpadUp,
	"down":   KeyDpadDown,
	"left":   KeyDpadLeft,
	"right":  KeyDpadRight,
	"center": KeyDpadCenter,
	"enter":  KeyDpadCenter,
	"back":   KeyBack,
	"home":   KeyHome,
	"menu":   KeyMenu,
}

// Liveness check.
const (
	EchoToken   = "adb_connection_test"
	EchoCommand = "echo '" + EchoToken + "'"
)

// State queries.
const (
	CmdMediaSession    = "dumpsys media_session"
	CmdVolumeGet       = "cmd media_session volume --stream 3 --get"
	CmdAudioDump       = "dumpsys audio"
	CmdPowerDump       = "dumpsys power"
	CmdWifiOn          = "settings get global wifi_on"
	CmdWifiSSID        = "dumpsys wifi | grep 'SSID:' | head -1"
	CmdWifiIP          = "ip addr show wlan0 | grep 'inet '"
	CmdCurrentActivity = "dumpsys activity activities | grep -E 'topResumedActivity|mResumedActivity'"
	CmdInstalledApps   = "pm list packages -3"
	CmdBrightnessGet   = "settings get system screen_brightness"
	CmdDeviceProps     = "getprop"
	CmdSystemCPU       = "top -n 1 | head -10"
	CmdMemInfo         = "cat /proc/meminfo"
)

// Screenshot capture location on the device, overwritten every capture.
const (
	ScreenshotDir  = "/sdcard/isgbackup/screenshot"
	ScreenshotPath = ScreenshotDir + "/latest.png"
)

// ISG companion app identity.
const (
	ISGPackage      = "com.linknlink.app.device.isg"
	ISGMainActivity = ISGPackage + "/.MainActivity"
)

// KeyEvent sends one key press.
func KeyEvent(code int) string {
	return "input keyevent " + strconv.Itoa(code)
}

// SetVolume sets the music stream level.
func SetVolume(level int) string {
	return fmt.Sprintf("cmd media_session volume --stream 3 --set %d", level)
}

// SetVolumeFallback is used by firmware without `cmd media_session`.
func SetVolumeFallback(level int) string {
	return fmt.Sprintf("media volume --stream 3 --set %d", level)
}

// SetBrightness writes the raw 0-255 brightness.
func SetBrightness(level int) string {
	return fmt.Sprintf("settings put system screen_brightness %d", clamp(level, 0, 255))
}

// StartApp launches the package's launcher activity.
func StartApp(pkg string) string {
	return "am start -a android.intent.action.MAIN -c android.intent.category.LAUNCHER -f 0x10200000 -p " + quote(pkg)
}

// Pidof finds the pid of a package's process.
func Pidof(pkg string) string {
	return "pidof " + quote(pkg)
}

// AppMemInfo dumps memory use of a package.
func AppMemInfo(pkg string) string {
	return "dumpsys meminfo " + quote(pkg) + " | head -50"
}

// AppCPU prints the top row of the package's process, or NO_PID.
func AppCPU(pkg string) string {
	return fmt.Sprintf("PID=$(pidof %s); if [ -n \"$PID\" ]; then top -n 1 -p $PID; else echo 'NO_PID'; fi", quote(pkg))
}

// AppLogs returns the last lines logged under the package tag.
func AppLogs(pkg string, lines int) string {
	if lines <= 0 {
		lines = 50
	}
	return fmt.Sprintf("logcat -s %s:* -v time -t %d", quote(pkg), lines)
}

// CrashLogs reads the crash buffer; callers filter by package.
func CrashLogs(lines int) string {
	if lines <= 0 {
		lines = 50
	}
	return fmt.Sprintf("logcat -b crash -v time -t %d", lines)
}

// CmdANRLogs lists recent ANR reports from ActivityManager.
const CmdANRLogs = "logcat -s ActivityManager:* -v time -t 10 | grep ANR"

// ForceStop kills the package.
func ForceStop(pkg string) string {
	return "am force-stop " + quote(pkg)
}

// ForceStart starts an explicit activity on top of a clean task.
func ForceStart(activity string) string {
	return "am start -n " + quote(activity) + " --activity-clear-top"
}

// ClearData wipes the package data and cache.
func ClearData(pkg string) string {
	return "pm clear " + quote(pkg)
}

// Screenshot steps.
const (
	CmdScreenshotMkdir   = "mkdir -p " + ScreenshotDir
	CmdScreenshotCapture = "screencap -p " + ScreenshotPath + " &"
	CmdScreenshotStat    = "ls -l " + ScreenshotPath
)

// quote keeps a template argument as a single shell word.
func quote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '.' || r == '_' || r == '/' || r == '-' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
