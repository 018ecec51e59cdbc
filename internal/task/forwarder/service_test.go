package forwarder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fakeSource struct {
	mu          sync.Mutex
	settings    relay.Settings
	settingsErr error
	posts       []relay.Post
	dests       []int64
	reads       int
}

func (f *fakeSource) Settings(context.Context) (relay.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.settings, f.settingsErr
}

func (f *fakeSource) ListActive(context.Context) ([]relay.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relay.Post(nil), f.posts...), nil
}

func (f *fakeSource) ListDestinations(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.dests...), nil
}

func (f *fakeSource) set(s relay.Settings) {
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
}

func (f *fakeSource) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type call struct {
	dest int64
	from kit.MessageRef
}

type fakeTransport struct {
	mu       sync.Mutex
	calls    []call
	failDest int64
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeTransport) Forward(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{dest: to.ChatID, from: from})
	f.mu.Unlock()
	if to.ChatID == f.failDest {
		return errors.New("chat not found")
	}
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fastConfig() Config {
	return Config{ForwardDelay: time.Millisecond, ErrorBackoff: 20 * time.Millisecond}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopNow(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestTickFansOutDespiteFailures(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.Settings{Interval: 1, Unit: relay.UnitHour},
		posts: []relay.Post{
			{ID: "1", SourceRef: -100111, MessageRef: 10, Active: true},
			{ID: "2", SourceRef: -100111, MessageRef: 11, Active: true},
		},
		dests: []int64{-1, -2, -3},
	}
	tr := &fakeTransport{failDest: -2}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)

	rep, err := s.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if rep.Attempted != 6 || rep.Failed != 2 || rep.Interval != time.Hour {
		t.Fatalf("report = %+v", rep)
	}
	want := []call{
		{-1, kit.MessageRef{ChatID: -100111, MessageID: 10}},
		{-2, kit.MessageRef{ChatID: -100111, MessageID: 10}},
		{-3, kit.MessageRef{ChatID: -100111, MessageID: 10}},
		{-1, kit.MessageRef{ChatID: -100111, MessageID: 11}},
		{-2, kit.MessageRef{ChatID: -100111, MessageID: 11}},
		{-3, kit.MessageRef{ChatID: -100111, MessageID: 11}},
	}
	for i, c := range tr.calls {
		if c != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestLoopKeepsRunningAfterPartialFailure(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.Settings{Interval: 1, Unit: relay.UnitHour},
		posts:    []relay.Post{{ID: "1", SourceRef: -1, MessageRef: 1}, {ID: "2", SourceRef: -1, MessageRef: 2}},
		dests:    []int64{-1, -2, -3},
	}
	tr := &fakeTransport{failDest: -3}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)
	s.Start()
	defer stopNow(t, s)

	waitFor(t, "first tick", func() bool { return s.Status().Ticks == 1 })
	st := s.Status()
	if !st.Running || st.LastTick.Attempted != 6 || st.LastTick.Failed != 2 || st.Failures != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestEmptySetsSkipFanOut(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.DefaultSettings,
		posts:    []relay.Post{{ID: "1", SourceRef: -1, MessageRef: 1}},
	}
	tr := &fakeTransport{}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)
	rep, err := s.tick(context.Background())
	if err != nil || rep.Attempted != 0 || tr.callCount() != 0 || rep.Interval != 5*time.Second {
		t.Fatalf("report = %+v, err = %v", rep, err)
	}
}

func TestStartStopAreIdempotent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{settings: relay.Settings{Interval: 1, Unit: relay.UnitHour}}
	s := New(fastConfig(), src, &fakeTransport{}, logx.Nop(), nil)

	stopNow(t, s)
	if _, started := s.Start(); !started {
		t.Fatal("first Start should start")
	}
	st, started := s.Start()
	if started || !st.Running || st.Generation != 1 {
		t.Fatalf("second Start = %+v, %v", st, started)
	}
	stopNow(t, s)
	stopNow(t, s)
	if s.Running() {
		t.Fatal("should be stopped")
	}
}

func TestStopInterruptsLongSleep(t *testing.T) {
	t.Parallel()
	src := &fakeSource{settings: relay.Settings{Interval: 1, Unit: relay.UnitHour}}
	s := New(fastConfig(), src, &fakeTransport{}, logx.Nop(), nil)
	s.Start()
	waitFor(t, "first tick", func() bool { return s.Status().Ticks == 1 })

	began := time.Now()
	stopNow(t, s)
	if took := time.Since(began); took > time.Second {
		t.Fatalf("Stop took %v", took)
	}
}

func TestRestartAppliesNewIntervalImmediately(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.Settings{Interval: 1, Unit: relay.UnitHour},
		posts:    []relay.Post{{ID: "1", SourceRef: -1, MessageRef: 1}},
		dests:    []int64{-5},
	}
	bus := eventbus.New()
	ticks, unsub := bus.Subscribe(16)
	defer unsub()
	s := New(fastConfig(), src, &fakeTransport{}, logx.Nop(), bus)
	s.Start()
	defer stopNow(t, s)

	first := nextTick(t, ticks)
	if first.Interval != time.Hour {
		t.Fatalf("first interval = %v", first.Interval)
	}

	src.set(relay.Settings{Interval: 1, Unit: relay.UnitSecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	second := nextTick(t, ticks)
	if second.Interval != time.Second {
		t.Fatalf("interval after restart = %v", second.Interval)
	}
	if g := s.Status().Generation; g != 2 {
		t.Fatalf("generation = %d", g)
	}
}

func nextTick(t *testing.T, ch <-chan eventbus.Event) TickReport {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if rep, ok := e.Data.(TickReport); ok && e.Type == eventbus.ForwarderTick {
				return rep
			}
		case <-timeout:
			t.Fatal("no tick event")
		}
	}
}

// stuckTransport blocks every forward until released, ignoring ctx.
type stuckTransport struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *stuckTransport) Forward(context.Context, kit.ChatTarget, kit.MessageRef) error {
	f.once.Do(func() { close(f.entered) })
	<-f.release
	return nil
}

func TestRestartTimeoutLeavesForwarderStopped(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.Settings{Interval: 1, Unit: relay.UnitHour},
		posts:    []relay.Post{{ID: "1", SourceRef: -1, MessageRef: 1}},
		dests:    []int64{-5},
	}
	tr := &stuckTransport{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)
	s.Start()
	<-tr.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Restart(ctx); err == nil {
		t.Fatal("Restart should fail while the old loop is stuck")
	}
	if s.Running() {
		t.Fatal("a failed restart must report the forwarder as stopped")
	}

	close(tr.release)
	st, started := s.Start()
	if !started || !st.Running || st.Generation != 2 {
		t.Fatalf("Start after failed restart = %+v, %v", st, started)
	}
	stopNow(t, s)
}

func TestRestartWhenStoppedIsNoop(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), &fakeSource{settings: relay.DefaultSettings}, &fakeTransport{}, logx.Nop(), nil)
	if err := s.Restart(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Running() || s.Status().Generation != 0 {
		t.Fatal("Restart must not start a stopped forwarder")
	}
}

func TestErrorBacksOffAndRecovers(t *testing.T) {
	t.Parallel()
	src := &fakeSource{settingsErr: errors.New("database is locked")}
	tr := &fakeTransport{}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)
	s.Start()
	defer stopNow(t, s)

	waitFor(t, "several failed ticks", func() bool { return src.readCount() >= 3 })
	st := s.Status()
	if !st.Running || st.Failures < 2 || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}

	src.mu.Lock()
	src.settingsErr = nil
	src.settings = relay.Settings{Interval: 1, Unit: relay.UnitHour}
	src.mu.Unlock()
	waitFor(t, "recovery", func() bool { return s.Status().Ticks >= 1 })
}

type panicTransport struct{ calls atomic.Int32 }

func (p *panicTransport) Forward(context.Context, kit.ChatTarget, kit.MessageRef) error {
	p.calls.Add(1)
	panic("boom")
}

func TestPanicInTickIsIsolated(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.DefaultSettings,
		posts:    []relay.Post{{ID: "1", SourceRef: -1, MessageRef: 1}},
		dests:    []int64{-1},
	}
	tr := &panicTransport{}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)
	s.Start()
	defer stopNow(t, s)

	waitFor(t, "retries after panic", func() bool { return tr.calls.Load() >= 2 })
	if !s.Running() {
		t.Fatal("loop must survive a panic")
	}
}

func TestConcurrentControlNeverOverlapsLoops(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		settings: relay.Settings{Interval: 1, Unit: relay.UnitSecond},
		posts:    []relay.Post{{ID: "1", SourceRef: -1, MessageRef: 1}},
		dests:    []int64{-1, -2},
	}
	tr := &fakeTransport{}
	s := New(fastConfig(), src, tr, logx.Nop(), nil)

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Start(); ok {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if started.Load() != 1 {
		t.Fatalf("started %d loops", started.Load())
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Restart(context.Background())
		}()
	}
	wg.Wait()
	stopNow(t, s)

	if m := tr.maxSeen.Load(); m > 1 {
		t.Fatalf("saw %d concurrent forwards", m)
	}
}

func TestAttachedContextStopsLoop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{settings: relay.Settings{Interval: 1, Unit: relay.UnitHour}}
	s := New(fastConfig(), src, &fakeTransport{}, logx.Nop(), nil)
	s.Attach(ctx)
	s.Start()
	waitFor(t, "first tick", func() bool { return s.Status().Ticks == 1 })
	cancel()
	stopNow(t, s)
}
