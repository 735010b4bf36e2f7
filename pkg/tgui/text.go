package tgui

// TruncRunes cuts s to at most n runes, ending with "…" when something was
// dropped. Bot command descriptions are limited to 256 characters.
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
