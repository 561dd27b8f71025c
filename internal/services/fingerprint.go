package services

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ClientTraits is the coarse browser/OS/device-class bucket extracted from a
// user-agent string
type ClientTraits struct {
	Browser     string
	OS          string
	DeviceClass string
}

// DeriveFingerprint hashes user-agent, origin address, accept-language and the
// coarse client traits into a stable bucketing key. It is a pure function of
// its inputs: no randomness, no clock. It is deliberately not an
// anti-spoofing signal, only a grouping key for failure counting and novelty
// detection.
func DeriveFingerprint(userAgent, ipAddress, acceptLanguage string) string {
	traits := ParseClientTraits(userAgent)
	data := []byte(fmt.Sprintf("%s|%s|%s|%s/%s/%s",
		userAgent, ipAddress, acceptLanguage,
		traits.Browser, traits.OS, traits.DeviceClass))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}

// ParseClientTraits extracts coarse browser, OS and device class from a
// user-agent string. Best effort; unrecognized agents bucket as "other".
func ParseClientTraits(userAgent string) ClientTraits {
	ua := strings.ToLower(userAgent)

	traits := ClientTraits{Browser: "other", OS: "other", DeviceClass: "desktop"}

	switch {
	case strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") || strings.Contains(ua, "spider"):
		traits.Browser = "bot"
		traits.DeviceClass = "bot"
		return traits
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge/"):
		traits.Browser = "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		traits.Browser = "opera"
	case strings.Contains(ua, "firefox/"):
		traits.Browser = "firefox"
	case strings.Contains(ua, "chrome/"):
		traits.Browser = "chrome"
	case strings.Contains(ua, "safari/"):
		traits.Browser = "safari"
	}

	switch {
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		traits.OS = "ios"
	case strings.Contains(ua, "android"):
		traits.OS = "android"
	case strings.Contains(ua, "windows"):
		traits.OS = "windows"
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macintosh"):
		traits.OS = "macos"
	case strings.Contains(ua, "linux"):
		traits.OS = "linux"
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		traits.DeviceClass = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		traits.DeviceClass = "mobile"
	}

	return traits
}

// DescribeClient renders traits as a short human-readable label for alert
// emails and security event reasons (e.g. "chrome on windows (desktop)")
func DescribeClient(userAgent string) string {
	traits := ParseClientTraits(userAgent)
	return fmt.Sprintf("%s on %s (%s)", traits.Browser, traits.OS, traits.DeviceClass)
}
