package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scope, action, payload string
		want                   string
		err                    error
	}{
		{"relay", "toggle", "ad_1", "relay:toggle:ad_1", nil},
		{" relay ", "noop", "", "relay:noop", nil},
		{"relay", "toggle", strings.Repeat("x", 60), "", ErrCallbackDataTooLong},
	}
	for _, tc := range tests {
		got, err := Data(tc.scope, tc.action, tc.payload)
		if !errors.Is(err, tc.err) || got != tc.want {
			t.Errorf("Data(%q,%q,%q) = %q, %v", tc.scope, tc.action, tc.payload, got, err)
		}
	}
}

func TestBuilderEscapes(t *testing.T) {
	t.Parallel()
	msg := New().Title("📊", "Status <now>").KV("interval", "5 second").Line("a & b").Build()
	want := "📊 <b>Status &lt;now&gt;</b>\n• <b>interval</b>: 5 second\na &amp; b"
	if msg.Text != want {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("opt = %+v", msg.Opt)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel…"},
		{"آگهی شماره", 4, "آگهی…"},
		{"x", 0, ""},
		{"abc", 3, "abc"},
		{"", 5, ""},
		{"🔖🔖🔖", 2, "🔖🔖…"},
		{"https://t.me/c/111/7", 12, "https://t.me…"},
	}
	for _, tc := range tests {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Errorf("TruncRunes(%q,%d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestKeyboard(t *testing.T) {
	t.Parallel()
	rm := Keyboard([]string{"a", "b"}, []string{"c"})
	if !rm.ResizeKeyboard || len(rm.ReplyKeyboard) != 2 || len(rm.ReplyKeyboard[0]) != 2 {
		t.Fatalf("keyboard = %+v", rm.ReplyKeyboard)
	}
	if rm.ReplyKeyboard[1][0].Text != "c" {
		t.Fatalf("label = %q", rm.ReplyKeyboard[1][0].Text)
	}
}
