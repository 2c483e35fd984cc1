// Package device derives a stable device identity from request metadata.
//
// The user-agent parser is a small substring matcher that covers the major
// browser and OS families. IsPrivateMode is a best-effort heuristic from UA
// markers only and is not a security control.
package device

import (
	"strings"
)

// Class is the coarse form factor of a device.
type Class string

const (
	Desktop Class = "Desktop"
	Mobile  Class = "Mobile"
	Tablet  Class = "Tablet"
)

// Info is what ParseUserAgent extracts from a user-agent string.
type Info struct {
	Browser        string
	BrowserVersion string // major version only
	OS             string
	OSVersion      string
	Class          Class
	IsPrivateMode  bool
}

// Browser tokens in match order. Chromium derivatives must come before
// Chrome, and Chrome before Safari, since their UAs contain each other.
var browsers = []struct{ token, name string }{
	{"Edg/", "Edge"},
	{"EdgA/", "Edge"},
	{"EdgiOS/", "Edge"},
	{"OPR/", "Opera"},
	{"SamsungBrowser/", "Samsung Internet"},
	{"Brave/", "Brave"},
	{"Vivaldi/", "Vivaldi"},
	{"FxiOS/", "Firefox"},
	{"Firefox/", "Firefox"},
	{"CriOS/", "Chrome"},
	{"Chrome/", "Chrome"},
	{"Version/", "Safari"},
}

// privateMarkers are UA fragments some browsers or extensions add in
// private windows.
var privateMarkers = map[string][]string{
	"Firefox": {"Private", "FxiOS-Private"},
	"Chrome":  {"Incognito", "HeadlessChrome"},
	"Edge":    {"InPrivate"},
	"Safari":  {"Private"},
	"Opera":   {"Private"},
}

// ParseUserAgent classifies ua. Unrecognised parts are reported as "Unknown".
func ParseUserAgent(ua string) Info {
	info := Info{
		Browser: "Unknown",
		OS:      "Unknown",
		Class:   Desktop,
	}

	for _, b := range browsers {
		if v, ok := versionAfter(ua, b.token); ok {
			if b.name == "Safari" && !strings.Contains(ua, "Safari/") {
				continue
			}
			info.Browser = b.name
			info.BrowserVersion = major(v)
			break
		}
	}

	info.OS, info.OSVersion = parseOS(ua)
	info.Class = parseClass(ua)

	for _, m := range privateMarkers[info.Browser] {
		if strings.Contains(ua, m) {
			info.IsPrivateMode = true
			break
		}
	}
	return info
}

func parseOS(ua string) (string, string) {
	switch {
	case strings.Contains(ua, "Windows NT"):
		v, _ := versionAfter(ua, "Windows NT ")
		return "Windows", windowsVersion(v)
	case strings.Contains(ua, "iPhone OS"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		v, _ := versionAfter(ua, "OS ")
		return "iOS", strings.ReplaceAll(v, "_", ".")
	case strings.Contains(ua, "Mac OS X"):
		v, _ := versionAfter(ua, "Mac OS X ")
		return "macOS", strings.ReplaceAll(v, "_", ".")
	case strings.Contains(ua, "Android"):
		v, _ := versionAfter(ua, "Android ")
		return "Android", v
	case strings.Contains(ua, "CrOS"):
		return "ChromeOS", ""
	case strings.Contains(ua, "Linux"):
		return "Linux", ""
	}
	return "Unknown", ""
}

func windowsVersion(nt string) string {
	switch nt {
	case "10.0":
		return "10"
	case "6.3":
		return "8.1"
	case "6.2":
		return "8"
	case "6.1":
		return "7"
	}
	return nt
}

func parseClass(ua string) Class {
	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		return Tablet
	case strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		return Tablet
	case strings.Contains(ua, "Mobi"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPod"):
		return Mobile
	}
	return Desktop
}

// versionAfter returns the version-like run of characters following token.
func versionAfter(ua, token string) (string, bool) {
	i := strings.Index(ua, token)
	if i < 0 {
		return "", false
	}
	rest := ua[i+len(token):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r == '.' || r == '_')
	})
	if end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

func major(v string) string {
	m, _, _ := strings.Cut(v, ".")
	return m
}
