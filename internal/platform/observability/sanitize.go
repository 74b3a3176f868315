package observability

import "unicode"

// clip drops control characters and truncates to limit runes so request-derived values are
// safe to log.
func clip(value string, limit int) string {
	if value == "" {
		return ""
	}
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

// SanitizeRoute returns a loggable route pattern.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, 180)
}

// SanitizeUserID truncates caller ids.
func SanitizeUserID(uid string) string {
	return clip(uid, 64)
}
