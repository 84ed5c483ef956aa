package roster

import "strings"

// NormalizeName cleans a display name fetched from an online directory.
// Anything from the first tab or run of three spaces on is dropped (directories
// use it to pad decorations), then characters outside printable ASCII are
// removed and surrounding space is trimmed.
func NormalizeName(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\t' || (s[i] == ' ' && allSpaces(s[i:min(i+3, len(s))])) {
			s = s[:i]
			break
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || (r > ' ' && r < 0x7f) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func allSpaces(s string) bool {
	return strings.Trim(s, " ") == ""
}
