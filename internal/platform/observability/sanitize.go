package observability

import "unicode"

// logSafe strips control characters and caps length so attacker-chosen input
// cannot forge log lines.
func logSafe(value string, limit int) string {
	kept := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		kept = append(kept, r)
		if len(kept) == limit {
			break
		}
	}
	return string(kept)
}

func routeLabel(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, 180)
}

func methodLabel(method string) string {
	return logSafe(method, 10)
}

func uidLabel(uid string) string {
	return logSafe(uid, 64)
}
