package catalog

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// DefaultApps is the friendly name to package mapping used when the options do
// not configure one.
var DefaultApps = map[string]string{
	"YouTube": "com.google.android.youtube.tv",
	"Netflix": "com.netflix.mediaclient",
	"Spotify": "com.spotify.music",
	"iSG":     ISGPackage,
}

// CastKind selects how CastIntent builds its view intent.
type CastKind string

const (
	CastYouTube CastKind = "youtube"
	CastNetflix CastKind = "netflix"
	CastSpotify CastKind = "spotify"
	CastURL     CastKind = "url"
)

// CastIntent returns the am command for kind/target and the package expected
// in the foreground afterwards ("" when any handler is acceptable).
func CastIntent(kind CastKind, target string) (command, expectedPackage string, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", "", errors.New("cast target is empty")
	}
	switch CastKind(strings.ToLower(string(kind))) {
	case CastYouTube:
		id := youtubeVideoID(target)
		return viewIntent("https://www.youtube.com/watch?v="+id, DefaultApps["YouTube"]), DefaultApps["YouTube"], nil
	case CastNetflix:
		return viewIntent("https://www.netflix.com/watch/"+url.PathEscape(target), DefaultApps["Netflix"]), DefaultApps["Netflix"], nil
	case CastSpotify:
		uri := target
		if !strings.HasPrefix(uri, "spotify:") {
			uri = "spotify:track:" + target
		}
		return viewIntent(uri, DefaultApps["Spotify"]), DefaultApps["Spotify"], nil
	case CastURL:
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" {
			return "", "", errors.Errorf("cast url %q is not absolute", target)
		}
		return viewIntent(u.String(), ""), "", nil
	default:
		return "", "", errors.Errorf("unsupported cast kind %q", kind)
	}
}

func viewIntent(data, pkg string) string {
	cmd := "am start -a android.intent.action.VIEW -d " + quote(data)
	if pkg != "" {
		cmd += " " + quote(pkg)
	}
	return cmd
}

// youtubeVideoID accepts a bare id or a watch / youtu.be link.
func youtubeVideoID(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if strings.HasSuffix(u.Host, "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	return target
}

// ResolveApp maps a friendly name (case-insensitive) or a package to a package.
func ResolveApp(apps map[string]string, nameOrPackage string) (string, bool) {
	nameOrPackage = strings.TrimSpace(nameOrPackage)
	if nameOrPackage == "" {
		return "", false
	}
	for _, m := range []map[string]string{apps, DefaultApps} {
		for name, pkg := range m {
			if strings.EqualFold(name, nameOrPackage) {
				return pkg, true
			}
		}
	}
	if strings.Contains(nameOrPackage, ".") {
		return nameOrPackage, true
	}
	return "", false
}

// FriendlyName is the reverse of ResolveApp; it falls back to the package.
func FriendlyName(apps map[string]string, pkg string) string {
	if pkg == "" {
		return ""
	}
	for _, m := range []map[string]string{apps, DefaultApps} {
		for name, p := range m {
			if p == pkg {
				return name
			}
		}
	}
	return pkg
}
