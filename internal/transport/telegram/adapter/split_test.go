package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "prefers newline", in: "aaaa\nbbbbbbb", limit: 6, want: []string{"aaaa", "bbbbbb", "b"}},
		{name: "html tag kept whole", in: "abcd<b>x</b>", limit: 6, parseMode: "HTML", want: []string{"abcd", "<b>x", "</b>"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tc.in, tc.limit, tc.parseMode)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("split(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitTelegramTextRespectsRunes(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("آگهی", 3000)
	for _, c := range splitTelegramText(in, telegramTextLimit, "") {
		if n := utf8.RuneCountInString(c); n > telegramTextLimit {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}
