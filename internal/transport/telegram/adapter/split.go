package adapter

import (
	"slices"
	"strings"
)

// Telegram rejects messages over 4096 characters; keep headroom for entities.
const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. A chunk ends
// at the last newline past a third of the limit when there is one; in HTML
// mode a chunk never ends inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rest := []rune(s)
	if len(rest) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for len(rest) > limit {
		cut := limit
		if nl := lastIndex(rest[:limit], '\n'); nl >= limit/3 {
			cut = nl + 1
		}
		if html {
			if open := lastIndex(rest[:cut], '<'); open > 1 && open > lastIndex(rest[:cut], '>') {
				cut = open
			}
		}
		out = append(out, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = trimLeadingNewlines(rest[cut:])
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}

func lastIndex(rs []rune, r rune) int {
	for i, c := range slices.Backward(rs) {
		if c == r {
			return i
		}
	}
	return -1
}

func trimLeadingNewlines(rs []rune) []rune {
	for len(rs) > 0 && rs[0] == '\n' {
		rs = rs[1:]
	}
	return rs
}
