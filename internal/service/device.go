package service

import (
	"strings"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
)

// ParseDevice classifies a User-Agent string into a device type and a
// "<browser> on <os>" model label.
func ParseDevice(userAgent string) (domain.DeviceType, string) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return domain.DeviceDesktop, ""
	}
	return deviceType(ua), browserName(ua) + " on " + osName(ua)
}

func deviceType(ua string) domain.DeviceType {
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"),
		strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return domain.DeviceTablet
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"),
		strings.Contains(ua, "ipod"), strings.Contains(ua, "windows phone"):
		return domain.DeviceMobile
	default:
		return domain.DeviceDesktop
	}
}

func browserName(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge/"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox/"), strings.Contains(ua, "fxios/"):
		return "Firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"), strings.Contains(ua, "chromium/"):
		return "Chrome"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	case strings.Contains(ua, "curl/"):
		return "curl"
	default:
		return "Unknown browser"
	}
}

func osName(ua string) string {
	switch {
	case strings.Contains(ua, "windows phone"):
		return "Windows Phone"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "cros"):
		return "ChromeOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "Unknown OS"
	}
}
