// Package report posts the relay status to the log chat on a cron schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/eventbus"
	"relaybot/internal/task/forwarder"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const DefaultSchedule = "0 9 * * *"

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	// ChatID is where reports go; zero disables sending.
	ChatID int64
}

// Source renders the status body. panel.Panel satisfies it.
type Source interface {
	StatusMessage(ctx context.Context) (tgui.Message, error)
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context

	src Source
	ad  kit.Adapter
	log logx.Logger

	created  atomic.Int64
	forwards atomic.Int64
	failed   atomic.Int64
}

func New(cfg Config, src Source, ad kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		ctx: context.Background(),
		src: src,
		ad:  ad,
		log: log.With(logx.String("comp", "report")),
	}
}

// Start schedules the report. It is a no-op when reports are disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("report timezone: %w", err)
		}
		loc = l
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, s.fire); err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("report scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config and reschedules when anything changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	return s.startLocked()
}

func (s *Service) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.RunOnce(cctx); err != nil {
		s.log.Warn("status report failed", logx.Err(err))
	}
}

// RunOnce sends one report now and resets the activity counters.
func (s *Service) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.cfg.ChatID
	s.mu.Unlock()
	if chatID == 0 {
		return errors.New("no report chat configured")
	}
	msg, err := s.src.StatusMessage(ctx)
	if err != nil {
		return err
	}
	msg.Text += "\n\n" + tgui.B("Since last report").String() + "\n" + tgui.Esc(fmt.Sprintf(
		"• %d new posts, %d forwards, %d failed",
		s.created.Swap(0), s.forwards.Swap(0), s.failed.Swap(0),
	)).String()
	if _, err := msg.Send(ctx, s.ad, kit.ChatTarget{ChatID: chatID}); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	s.log.Debug("status report sent", logx.Int64("chat_id", chatID))
	return nil
}

// Consume counts relay activity from bus until ctx ends.
func (s *Service) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.note(e)
		}
	}
}

func (s *Service) note(e eventbus.Event) {
	switch e.Type {
	case eventbus.PostCreated:
		s.created.Add(1)
	case eventbus.ForwarderTick:
		if t, ok := e.Data.(forwarder.TickReport); ok {
			s.forwards.Add(int64(t.Attempted))
			s.failed.Add(int64(t.Failed))
		}
	}
}
