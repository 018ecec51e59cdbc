package tgui

// TruncRunes cuts s to at most n runes, marking a cut with "…". The cut
// always lands on a rune boundary.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}
