package report

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/task/forwarder"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

type staticSource struct{}

func (staticSource) StatusMessage(context.Context) (tgui.Message, error) {
	return tgui.New().Title("📊", "Relay status").Build(), nil
}

type sink struct {
	mu    sync.Mutex
	chats []int64
	texts []string
}

func (s *sink) Start(context.Context, chan<- kit.Update) error { return nil }
func (s *sink) Stop(context.Context) error                     { return nil }
func (s *sink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, to.ChatID)
	s.texts = append(s.texts, text)
	return kit.MessageRef{}, nil
}
func (s *sink) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error { return nil }
func (s *sink) AnswerCallback(context.Context, string, string, bool) error           { return nil }
func (s *sink) Forward(context.Context, kit.ChatTarget, kit.MessageRef) error         { return nil }

func TestRunOnceIncludesActivity(t *testing.T) {
	t.Parallel()
	out := &sink{}
	svc := New(Config{ChatID: -100999}, staticSource{}, out, logx.Nop())

	svc.note(eventbus.Event{Type: eventbus.PostCreated})
	svc.note(eventbus.Event{Type: eventbus.PostCreated})
	svc.note(eventbus.Event{Type: eventbus.ForwarderTick, Data: forwarder.TickReport{Attempted: 6, Failed: 1}})

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(out.texts) != 2 || out.chats[0] != -100999 {
		t.Fatalf("sent %d reports to %v", len(out.texts), out.chats)
	}
	if !strings.Contains(out.texts[0], "2 new posts, 6 forwards, 1 failed") {
		t.Fatalf("first report = %q", out.texts[0])
	}
	if !strings.Contains(out.texts[1], "0 new posts, 0 forwards, 0 failed") {
		t.Fatalf("counters were not reset: %q", out.texts[1])
	}
}

func TestRunOnceWithoutChat(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, staticSource{}, &sink{}, logx.Nop())
	if err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("expected an error without a report chat")
	}
}

func TestScheduling(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := New(Config{Enabled: false}, staticSource{}, &sink{}, logx.Nop())
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if svc.c != nil {
		t.Fatal("disabled report must not schedule")
	}
	if err := svc.Apply(Config{Enabled: true, Schedule: "*/5 * * * *", ChatID: 1}); err != nil {
		t.Fatal(err)
	}
	if svc.c == nil {
		t.Fatal("enabling should schedule")
	}
	if err := svc.Apply(Config{Enabled: true, Schedule: "nonsense", ChatID: 1}); err == nil {
		t.Fatal("bad schedule should fail")
	}
	if err := svc.Apply(Config{Enabled: true, Timezone: "Mars/Base", ChatID: 1}); err == nil {
		t.Fatal("bad timezone should fail")
	}
	svc.Stop(ctx)
}

func TestConsumeCountsBusEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	svc := New(Config{}, staticSource{}, &sink{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Consume(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for svc.created.Load() == 0 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.PostCreated})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if svc.created.Load() == 0 {
		t.Fatal("post.created was not counted")
	}
}
