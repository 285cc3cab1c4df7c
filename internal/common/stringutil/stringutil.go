// Package stringutil provides common string utility functions.
package stringutil

// TruncateString truncates a string to a maximum number of characters.
// Truncation is rune-aware so multi-byte characters are never split.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// TruncateStringWithEllipsis truncates a string to a maximum length and adds
// an "..." suffix. If the string fits within maxLen it is returned unchanged.
func TruncateStringWithEllipsis(s string, maxLen int) string {
	if maxLen < 4 {
		return TruncateString(s, maxLen)
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// FirstLine returns the first line of a string, without the trailing newline.
func FirstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}
