package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Meta holds the optional client-reported signals mixed into a fingerprint.
type Meta struct {
	ScreenResolution string
	Timezone         string
	Language         string
}

// Fingerprint returns the hex SHA-256 over the pipe-joined components in a
// fixed order. Missing optional fields contribute an empty string.
func Fingerprint(ip, userAgent string, meta Meta) string {
	info := ParseUserAgent(userAgent)
	parts := []string{
		ip,
		userAgent,
		info.Browser,
		info.BrowserVersion,
		info.OS,
		info.OSVersion,
		string(info.Class),
		meta.ScreenResolution,
		meta.Timezone,
		meta.Language,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Key identifies a device independently of the network it connects from.
// It is Fingerprint with the IP left out, so a laptop moving between home
// and office keeps the same key.
func Key(userAgent string, meta Meta) string {
	return Fingerprint("", userAgent, meta)
}

// CreateDeviceName renders a human label such as "Chrome - Windows - Desktop".
func CreateDeviceName(info Info) string {
	name := info.Browser + " - " + info.OS + " - " + string(info.Class)
	if info.IsPrivateMode {
		name += " (Incognito)"
	}
	return name
}
