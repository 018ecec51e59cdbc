package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type sent struct {
	chat int64
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	answers  []string
	notify   chan struct{}
	menuCmds []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{notify: make(chan struct{}, 64)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text, opt: opt})
	f.mu.Unlock()
	f.notify <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeAdapter) Forward(context.Context, kit.ChatTarget, kit.MessageRef) error { return nil }

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menuCmds = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter call")
	}
}

func (f *fakeAdapter) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

type fakeAuth struct {
	owner int64
	admin int64
}

func (a fakeAuth) IsAuthorized(_ context.Context, id int64) bool { return id == a.owner || id == a.admin }
func (a fakeAuth) IsOwner(id int64) bool                         { return id == a.owner }

const (
	owner    = 1
	admin    = 2
	stranger = 3
)

type harness struct {
	ad      *fakeAdapter
	m       *CommandManager
	updates chan kit.Update
	got     chan []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ad:      newFakeAdapter(),
		updates: make(chan kit.Update, 16),
		got:     make(chan []string, 16),
	}
	h.m = NewCommandManager(logx.Nop(), h.ad, fakeAuth{owner: owner, admin: admin}, Options{Workers: 2})
	record := func(ctx context.Context, req *Request) error {
		h.got <- append([]string{req.Command}, req.Args...)
		return nil
	}
	h.m.SetRegistry([]Command{
		{Route: "status", Aliases: []string{"st"}, Access: AccessEveryone, Handle: record},
		{Route: "source_add", Access: AccessAdmin, Prompt: "Send the chat id", MinArgs: 1, Handle: record},
		{Route: "admin_add", Access: AccessOwner, Handle: record},
	}, []Button{
		{Text: "📥 Add source", Command: "source_add"},
		{Text: "📊 Status", Command: "status"},
	}, []CallbackRoute{
		{Scope: "relay", Action: "toggle", Access: AccessAdmin, Handle: func(ctx context.Context, req *Request, payload string) error {
			req.Answer("toggled "+payload, false)
			return nil
		}},
	})
	h.m.SetCancelTexts("❌ Cancel")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.m.DispatchLoop(ctx, h.updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) text(from int64, text string, group bool) {
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100, FromID: from, Text: text, IsGroup: group}}
}

func (h *harness) expect(t *testing.T, want ...string) {
	t.Helper()
	select {
	case got := <-h.got:
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("handled %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called, want %v", want)
	}
}

func TestCommandRouting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text(stranger, "/status now", false)
	h.expect(t, "status", "now")

	h.text(stranger, "/st@relay_bot", false)
	h.expect(t, "status")

	h.text(admin, `/source_add -100123 "x y"`, false)
	h.expect(t, "source_add", "-100123", "x y")

	h.text(stranger, "📊 Status", false)
	h.expect(t, "status")
}

func TestAccessLevels(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text(stranger, "/source_add -1001", false)
	h.ad.wait(t)
	if !strings.Contains(h.ad.lastText(), "not allowed") {
		t.Fatalf("reply = %q", h.ad.lastText())
	}

	h.text(admin, "/admin_add 5", false)
	h.ad.wait(t)
	if !strings.Contains(h.ad.lastText(), "not allowed") {
		t.Fatalf("admin ran owner command: %q", h.ad.lastText())
	}

	h.text(owner, "/admin_add 5", false)
	h.expect(t, "admin_add", "5")
}

func TestPromptFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text(admin, "📥 Add source", false)
	h.ad.wait(t)
	if h.ad.lastText() != "Send the chat id" {
		t.Fatalf("prompt = %q", h.ad.lastText())
	}
	// Another user's message does not answer the prompt.
	h.text(owner, "-100999", false)
	h.text(admin, "-100555", false)
	h.expect(t, "source_add", "-100555")

	h.text(admin, "📥 Add source", false)
	h.ad.wait(t)
	h.text(admin, "❌ Cancel", false)
	h.ad.wait(t)
	if h.ad.lastText() != "Cancelled." {
		t.Fatalf("cancel reply = %q", h.ad.lastText())
	}
	h.text(admin, "-100555", false)
	select {
	case got := <-h.got:
		t.Fatalf("cancelled prompt still ran %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text(stranger, "/nope", true)
	h.text(stranger, "/nope", false)
	h.ad.wait(t)
	h.ad.mu.Lock()
	n := len(h.ad.sent)
	h.ad.mu.Unlock()
	if n != 1 || !strings.Contains(h.ad.lastText(), "Unknown command") {
		t.Fatalf("sent %d messages, last %q", n, h.ad.lastText())
	}
}

func TestCallbackRouting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "a", FromID: stranger, ChatID: 100, Data: "relay:toggle:ad_1"}}
	h.ad.wait(t)
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "b", FromID: admin, ChatID: 100, Data: "relay:toggle:ad_1"}}
	h.ad.wait(t)

	h.ad.mu.Lock()
	defer h.ad.mu.Unlock()
	want := []string{"⛔ Not allowed", "toggled ad_1"}
	if !reflect.DeepEqual(h.ad.answers, want) {
		t.Fatalf("answers = %q, want %q", h.ad.answers, want)
	}
}

func TestChannelPostHook(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	got := make(chan kit.Message, 1)
	h.m.OnChannelPost(func(ctx context.Context, msg kit.Message) { got <- msg })

	h.updates <- kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ChatID: -100111, ID: 42, Caption: "hi"}}
	select {
	case msg := <-got:
		if msg.ChatID != -100111 || msg.ID != 42 {
			t.Fatalf("msg = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel post not delivered")
	}
}

func TestPromptExpiry(t *testing.T) {
	t.Parallel()
	b := newPromptBook(time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	k := promptKey{chatID: 1, userID: 2}

	b.Begin(k, pendingPrompt{command: "x"})
	now = now.Add(2 * time.Minute)
	if _, ok := b.Take(k); ok {
		t.Fatal("expired prompt must not be returned")
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/a b  c", []string{"/a", "b", "c"}},
		{`/a "b c" 'd e'`, []string{"/a", "b c", "d e"}},
		{`/a b\ c`, []string{"/a", "b c"}},
		{"-100123", []string{"-100123"}},
	}
	for _, tc := range tests {
		if got := tokenizeCommandLine(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMenuAndHelp(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, fakeAuth{owner: owner}, Options{})
	noop := func(context.Context, *Request) error { return nil }
	m.SetRegistry([]Command{
		{Route: "admin_add", Description: "add admin", Access: AccessOwner, Handle: noop},
		{Route: "status", Description: "show status", Handle: noop},
		{Route: "Dest-Add", Description: "add destination", Access: AccessAdmin, Handle: noop},
	}, nil, nil)

	if err := m.PublishMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range ad.menuCmds {
		names = append(names, c.Command)
	}
	want := []string{"help", "status", "dest_add", "admin_add"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("menu = %v, want %v", names, want)
	}

	txt := m.helpText(context.Background(), stranger, nil)
	if strings.Contains(txt, "admin_add") || !strings.Contains(txt, "/status") {
		t.Fatalf("stranger help = %q", txt)
	}
	if txt := m.helpText(context.Background(), owner, []string{"admin_add"}); !strings.Contains(txt, "Owners only") {
		t.Fatalf("detail help = %q", txt)
	}
}
