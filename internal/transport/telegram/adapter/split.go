package adapter

import "strings"

const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. Cuts land on
// a newline when one exists in the back two thirds of the window, and in HTML
// mode never inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for len(rs) > 0 {
		if len(rs) <= limit {
			out = append(out, string(rs))
			break
		}
		cut := limit
		if nl := lastIndexRune(rs[:limit], '\n'); nl >= limit/3 {
			cut = nl + 1
		}
		if html {
			if open := lastIndexRune(rs[:cut], '<'); open > 0 && open > lastIndexRune(rs[:cut], '>') {
				cut = open
			}
		}
		chunk := strings.TrimRight(string(rs[:cut]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		rs = rs[cut:]
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
