package forwarder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	rtsup "relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Service owns the single forwarding loop. The loop is either stopped or
// running under exactly one supervisor; opMu makes Start, Stop and
// Restart mutually exclusive so a replacement loop is only spawned after
// the previous one has exited.
type Service struct {
	opMu sync.Mutex

	mu     sync.Mutex
	cfg    Config
	parent context.Context
	cur    *run
	gen    uint64

	// draining is a cancelled loop whose Stop gave up waiting. spawn waits
	// for it before starting a replacement.
	draining *rtsup.Supervisor

	src Source
	tr  Transport
	log logx.Logger
	bus eventbus.Bus

	statsMu  sync.Mutex
	ticks    uint64
	failures uint64
	last     TickReport
	lastErr  string
}

type run struct {
	sup       *rtsup.Supervisor
	gen       uint64
	startedAt time.Time
}

func New(cfg Config, src Source, tr Transport, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		parent: context.Background(),
		src:    src,
		tr:     tr,
		log:    log.With(logx.String("comp", "forwarder")),
		bus:    bus,
	}
}

// Attach sets the context every future loop derives from. Cancelling it
// stops a running loop.
func (s *Service) Attach(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()
}

// Apply swaps the tunables. A running loop picks them up on its next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{Generation: s.gen}
	if s.cur != nil {
		st.Running = true
		st.Since = s.cur.startedAt
	}
	s.mu.Unlock()

	s.statsMu.Lock()
	st.Ticks = s.ticks
	st.Failures = s.failures
	st.LastTick = s.last
	st.LastError = s.lastErr
	s.statsMu.Unlock()
	return st
}

// Start spawns the loop if it is stopped. The bool reports whether a new
// loop was started; starting a running forwarder is a no-op.
func (s *Service) Start() (Status, bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.Running() {
		return s.Status(), false
	}
	s.spawn()
	return s.Status(), true
}

// Stop cancels the loop and waits for it to exit, bounded by ctx. Stopping
// a stopped forwarder is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.halt(ctx, "stopped")
}

// Restart replaces a running loop so the new one re-reads settings at once
// instead of finishing its current sleep. It does nothing when stopped.
// If the old loop does not exit before ctx ends, Restart returns an error and
// leaves the forwarder stopped; the next Start waits for the old loop first.
func (s *Service) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.Running() {
		return nil
	}
	if err := s.halt(ctx, "restart"); err != nil {
		return err
	}
	s.spawn()
	return nil
}

// spawn requires opMu.
func (s *Service) spawn() {
	s.mu.Lock()
	old := s.draining
	s.draining = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Wait(context.Background())
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	sup := rtsup.NewSupervisor(s.parent, rtsup.WithLogger(s.log))
	r := &run{sup: sup, gen: gen, startedAt: time.Now()}
	s.cur = r
	s.mu.Unlock()

	sup.Go0("forwarder.loop", func(ctx context.Context) { s.loop(ctx, gen) })
	s.log.Info("forwarder started", logx.Uint64("gen", gen))
	s.publish(eventbus.ForwarderStarted, gen)
}

// halt requires opMu.
func (s *Service) halt(ctx context.Context, reason string) error {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	if err := r.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if ctx.Err() != nil {
			s.mu.Lock()
			s.draining = r.sup
			s.mu.Unlock()
			return fmt.Errorf("forwarder did not stop: %w", err)
		}
		s.log.Warn("forwarder loop exited with error", logx.Err(err))
	}
	s.log.Info("forwarder stopped", logx.Uint64("gen", r.gen), logx.String("reason", reason))
	s.publish(eventbus.ForwarderStopped, r.gen)
	return nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (s *Service) loop(ctx context.Context, gen uint64) {
	log := s.log.With(logx.Uint64("gen", gen))
	for {
		if ctx.Err() != nil {
			return
		}
		rep, err := s.tickSafe(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := rep.Interval
		if err != nil {
			wait = s.config().ErrorBackoff
			s.noteFailure(err)
			log.Error("tick failed; backing off", logx.Err(err), logx.Duration("backoff", wait))
		} else {
			s.noteTick(rep)
			s.publish(eventbus.ForwarderTick, rep)
			log.Debug("tick done",
				logx.Int("posts", rep.Posts),
				logx.Int("destinations", rep.Destinations),
				logx.Int("attempted", rep.Attempted),
				logx.Int("failed", rep.Failed),
				logx.Duration("took", rep.Took),
				logx.Duration("next_in", wait),
			)
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (s *Service) tickSafe(ctx context.Context) (rep TickReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return s.tick(ctx)
}

func (s *Service) tick(ctx context.Context) (TickReport, error) {
	began := time.Now()
	rep := TickReport{At: began}

	settings, err := s.src.Settings(ctx)
	if err != nil {
		return rep, fmt.Errorf("read settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return rep, err
	}
	rep.Interval = settings.Duration()

	posts, err := s.src.ListActive(ctx)
	if err != nil {
		return rep, fmt.Errorf("list active posts: %w", err)
	}
	dests, err := s.src.ListDestinations(ctx)
	if err != nil {
		return rep, fmt.Errorf("list destinations: %w", err)
	}
	rep.Posts, rep.Destinations = len(posts), len(dests)
	if len(posts) == 0 || len(dests) == 0 {
		rep.Took = time.Since(began)
		return rep, nil
	}

	pace := rate.NewLimiter(rate.Every(s.config().ForwardDelay), 1)
	for _, p := range posts {
		for _, dest := range dests {
			if err := pace.Wait(ctx); err != nil {
				return rep, err
			}
			err := s.tr.Forward(ctx, kit.ChatTarget{ChatID: dest}, kit.MessageRef{ChatID: p.SourceRef, MessageID: p.MessageRef})
			rep.Attempted++
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed++
			s.log.Warn("forward failed",
				logx.String("post", p.ID),
				logx.Int64("dest", dest),
				logx.Err(err),
			)
		}
	}
	rep.Took = time.Since(began)
	return rep, nil
}

func (s *Service) noteTick(rep TickReport) {
	s.statsMu.Lock()
	s.ticks++
	s.last = rep
	s.statsMu.Unlock()
}

func (s *Service) noteFailure(err error) {
	s.statsMu.Lock()
	s.failures++
	s.lastErr = err.Error()
	s.statsMu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Source = (*relay.Registry)(nil)
