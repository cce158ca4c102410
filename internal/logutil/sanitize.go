package logutil

import "strings"

// maxLogValueLen caps how much of a single user-provided value ends up in a
// log line. Remote log lines can be arbitrarily long.
const maxLogValueLen = 256

// SanitizeForLog removes newlines and control characters from host names,
// paths and remote content before they are written to the process log, so a
// remote file cannot forge log entries by embedding line breaks.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n', r == '\r', r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 0x7f:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate shortens s to at most maxLogValueLen bytes, marking the cut with
// an ellipsis. It never splits a multi-byte rune.
func Truncate(s string) string {
	return TruncateTo(s, maxLogValueLen)
}

// TruncateTo is Truncate with a caller-chosen limit, not counting the
// ellipsis.
func TruncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
