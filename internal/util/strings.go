package util

// TruncateString shortens s to maxLen runes for log output, appending an
// ellipsis when truncation occurred.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
