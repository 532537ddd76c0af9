package catalog

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Every parser in this file degrades to a zero/default value on unexpected
// input; firmware output varies too much to treat it as an error.

// Wakefulness is the power manager's own state.
type Wakefulness string

const (
	WakefulnessAwake    Wakefulness = "Awake"
	WakefulnessAsleep   Wakefulness = "Asleep"
	WakefulnessDreaming Wakefulness = "Dreaming"
	WakefulnessUnknown  Wakefulness = "Unknown"
)

// MediaState is the playback state of the active media session.
type MediaState string

const (
	MediaIdle    MediaState = "idle"
	MediaPlaying MediaState = "playing"
	MediaPaused  MediaState = "paused"
	MediaStopped MediaState = "stopped"
)

var (
	volumeRe      = regexp.MustCompile(`volume is (\d+) in range \[(\d+)\.\.(\d+)\]`)
	wakefulnessRe = regexp.MustCompile(`(?i)(?:mWakefulness|getWakefulnessLocked\(\))\s*=\s*([A-Za-z_]+)`)
	screenFlagRes = []*regexp.Regexp{
		regexp.MustCompile(`mScreenOn\s*=\s*(true|false)`),
		regexp.MustCompile(`mScreenState\s*=\s*(ON|OFF)`),
		regexp.MustCompile(`Display Power: state=(ON|OFF)`),
		regexp.MustCompile(`mDisplayPowerState\s*=\s*(ON|OFF)`),
		regexp.MustCompile(`mHoldingDisplaySuspendBlocker\s*=\s*(true|false)`),
	}
	playbackTokenRe = regexp.MustCompile(`state=PlaybackState\s*\{\s*state=([A-Z_]+)\(\d+\)`)
	playbackNumRe   = regexp.MustCompile(`state=PlaybackState\s*\{\s*state=(\d+)`)
	ssidRe          = regexp.MustCompile(`SSID:\s*"([^"]+)"`)
	ipv4Re          = regexp.MustCompile(`inet (\d+\.\d+\.\d+\.\d+)`)
	activityRecRe   = regexp.MustCompile(`(?:topResumedActivity|mResumedActivity|ResumedActivity)\s*[:=]\s*ActivityRecord\{([^}]*)\}`)
	propBracketRe   = regexp.MustCompile(`^\[([^\]]+)\]:\s*\[([^\]]*)\]$`)
	propInlineRe    = regexp.MustCompile(`^\[([^=\]]+)=([^\]]*)\]$`)
	memTotalRe      = regexp.MustCompile(`(?m)^\s*TOTAL(?:\s+PSS:)?\s+(\d+)`)
	toyboxCPURe     = regexp.MustCompile(`(\d+)%cpu.*?(\d+)%idle`)
	legacyCPURe     = regexp.MustCompile(`User\s+(\d+)%,\s*System\s+(\d+)%`)
	meminfoLineRe   = regexp.MustCompile(`(?m)^(\w+):\s+(\d+)\s*kB`)
	lsSizeRe        = regexp.MustCompile(`^[-dlcbps][-rwxsStT]{9}\S*\s+\d+\s+\S+\s+\S+\s+(\d+)\s`)
)

// ParseVolume reads `volume is <cur> in range [<min>..<max>]`.
func ParseVolume(out string) (current, min, max int, ok bool) {
	m := volumeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, 0, false
	}
	current, _ = strconv.Atoi(m[1])
	min, _ = strconv.Atoi(m[2])
	max, _ = strconv.Atoi(m[3])
	return current, min, max, true
}

// ParseMuted reads the explicit Muted flag of the STREAM_MUSIC block in
// `dumpsys audio`. The level is deliberately not consulted.
func ParseMuted(audioDump string) bool {
	inMusic := false
	scanner := bufio.NewScanner(strings.NewReader(audioDump))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "- ") {
			if inMusic {
				return false
			}
			inMusic = strings.HasPrefix(line, "- STREAM_MUSIC")
			continue
		}
		if !inMusic {
			continue
		}
		if strings.HasPrefix(line, "Muted:") {
			return strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(line, "Muted:")), "true")
		}
	}
	return false
}

// ParsePower extracts wakefulness and the screen-on flag from `dumpsys power`.
func ParsePower(out string) (Wakefulness, bool) {
	wake := WakefulnessUnknown
	if m := wakefulnessRe.FindStringSubmatch(out); m != nil {
		switch strings.ToLower(m[1]) {
		case "awake", "waking":
			wake = WakefulnessAwake
		case "asleep", "sleep":
			wake = WakefulnessAsleep
		case "dreaming", "dozing":
			wake = WakefulnessDreaming
		}
	}
	screenOn := false
	for _, re := range screenFlagRes {
		if m := re.FindStringSubmatch(out); m != nil {
			screenOn = strings.EqualFold(m[1], "true") || strings.EqualFold(m[1], "ON")
			break
		}
	}
	return wake, screenOn
}

// ParseMediaState returns the playback state of the active session, or of the
// first session when none is flagged active.
func ParseMediaState(out string) MediaState {
	blocks := splitSessions(out)
	var first MediaState
	found := false
	for _, block := range blocks {
		st, ok := playbackState(block)
		if !ok {
			continue
		}
		if strings.Contains(block, "active=true") {
			return st
		}
		if !found {
			first, found = st, true
		}
	}
	if found {
		return first
	}
	return MediaIdle
}

func splitSessions(out string) []string {
	var blocks []string
	var cur strings.Builder
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "package=") && cur.Len() > 0 {
			blocks = append(blocks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur.String())
	}
	return blocks
}

func playbackState(block string) (MediaState, bool) {
	if m := playbackTokenRe.FindStringSubmatch(block); m != nil {
		switch m[1] {
		case "PLAYING":
			return MediaPlaying, true
		case "PAUSED", "PAUSE":
			return MediaPaused, true
		case "STOPPED", "STOP":
			return MediaStopped, true
		default:
			return MediaIdle, true
		}
	}
	if m := playbackNumRe.FindStringSubmatch(block); m != nil {
		switch m[1] {
		case "3":
			return MediaPlaying, true
		case "2":
			return MediaPaused, true
		case "1":
			return MediaStopped, true
		default:
			return MediaIdle, true
		}
	}
	return MediaIdle, false
}

// ParseWifiEnabled reads `settings get global wifi_on`.
func ParseWifiEnabled(out string) bool {
	return strings.TrimSpace(out) == "1"
}

// ParseSSID extracts the quoted SSID; "" when absent or unknown.
func ParseSSID(out string) string {
	m := ssidRe.FindStringSubmatch(out)
	if m == nil || m[1] == "<unknown ssid>" {
		return ""
	}
	return m[1]
}

// ParseIPv4 extracts the first inet address.
func ParseIPv4(out string) string {
	if m := ipv4Re.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}

// ParseCurrentActivity returns the package and full activity of the top resumed
// record. Tokens before `pkg/activity` (user id, hash, task) are skipped.
func ParseCurrentActivity(out string) (pkg, activity string) {
	m := activityRecRe.FindStringSubmatch(out)
	if m == nil {
		return "", ""
	}
	for _, tok := range strings.Fields(m[1]) {
		idx := strings.Index(tok, "/")
		if idx <= 0 {
			continue
		}
		pkg = tok[:idx]
		cls := tok[idx+1:]
		if strings.HasPrefix(cls, ".") {
			cls = pkg + cls
		}
		return pkg, pkg + "/" + cls
	}
	return "", ""
}

// ParseProperties flattens a getprop dump in `[k]: [v]` or `[k=v]` form.
func ParseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := propBracketRe.FindStringSubmatch(line); m != nil {
			props[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
			continue
		}
		if m := propInlineRe.FindStringSubmatch(line); m != nil {
			props[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return props
}

// Identity is the immutable device description.
type Identity struct {
	Model          string
	Manufacturer   string
	AndroidVersion string
	APILevel       string
	Serial         string
}

// IdentityFromProperties projects getprop keys, defaulting to "Unknown".
func IdentityFromProperties(props map[string]string) Identity {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(props[k]); v != "" {
				return v
			}
		}
		return "Unknown"
	}
	return Identity{
		Model:          pick("ro.product.model"),
		Manufacturer:   pick("ro.product.manufacturer"),
		AndroidVersion: pick("ro.build.version.release"),
		APILevel:       pick("ro.build.version.sdk"),
		Serial:         pick("ro.serialno", "ro.boot.serialno"),
	}
}

// ParsePid accepts a digit-only first token from pidof.
func ParsePid(out string) (int, bool) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, false
	}
	for _, r := range fields[0] {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// ParseMemInfoTotalKB reads the TOTAL line of `dumpsys meminfo <pkg>`.
func ParseMemInfoTotalKB(out string) int {
	if m := memTotalRe.FindStringSubmatch(out); m != nil {
		kb, _ := strconv.Atoi(m[1])
		return kb
	}
	return 0
}

// ParseProcessCPU finds pkg's row in a top snapshot and reads the column right
// after the process state letter.
func ParseProcessCPU(out, pkg string) float64 {
	for _, line := range strings.Split(out, "\n") {
		if pkg == "" || !strings.Contains(line, pkg) {
			continue
		}
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if !isProcessState(fields[i]) {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSuffix(fields[i+1], "%"), 64); err == nil {
				return v
			}
		}
	}
	return 0
}

func isProcessState(tok string) bool {
	switch tok {
	case "S", "R", "D", "T", "Z":
		return true
	}
	return false
}

// ParseSystemCPU reads the summary header of top. toybox reports
// `800%cpu ... 700%idle`; older toolbox reports `User 5%, System 3%`.
func ParseSystemCPU(out string) float64 {
	if m := toyboxCPURe.FindStringSubmatch(out); m != nil {
		total, _ := strconv.ParseFloat(m[1], 64)
		idle, _ := strconv.ParseFloat(m[2], 64)
		if total <= 0 {
			return 0
		}
		used := (total - idle) / total * 100
		if used < 0 {
			return 0
		}
		return used
	}
	if m := legacyCPURe.FindStringSubmatch(out); m != nil {
		user, _ := strconv.ParseFloat(m[1], 64)
		sys, _ := strconv.ParseFloat(m[2], 64)
		return user + sys
	}
	return 0
}

// ParseMemInfo returns MemTotal and the available memory in kB from /proc/meminfo.
func ParseMemInfo(out string) (totalKB, availableKB int) {
	values := make(map[string]int)
	for _, m := range meminfoLineRe.FindAllStringSubmatch(out, -1) {
		v, _ := strconv.Atoi(m[2])
		values[m[1]] = v
	}
	totalKB = values["MemTotal"]
	if v, ok := values["MemAvailable"]; ok {
		return totalKB, v
	}
	return totalKB, values["MemFree"] + values["Buffers"] + values["Cached"]
}

// ParseBrightness reads the raw 0-255 value.
func ParseBrightness(out string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || v < 0 {
		return 0, false
	}
	return clamp(v, 0, 255), true
}

// ParseInstalledPackages lists `package:` entries, sorted.
func ParseInstalledPackages(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "package:") {
			continue
		}
		if pkg := strings.TrimSpace(strings.TrimPrefix(line, "package:")); pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return pkgs
}

// FilterLines keeps non-empty lines containing needle.
func FilterLines(out, needle string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if needle == "" || strings.Contains(line, needle) {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseFileSize reads the size column of `ls -l`; -1 when the file is missing.
func ParseFileSize(out string) int64 {
	line := strings.TrimSpace(out)
	if m := lsSizeRe.FindStringSubmatch(line + " "); m != nil {
		size, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return size
		}
	}
	return -1
}
