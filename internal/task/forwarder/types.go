package forwarder

import (
	"context"
	"time"

	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
)

const (
	DefaultForwardDelay = time.Second
	DefaultErrorBackoff = 10 * time.Second
)

// Config holds operator tunables. Admin commands cannot change them.
type Config struct {
	// ForwardDelay is the pause between two consecutive forward calls.
	ForwardDelay time.Duration
	// ErrorBackoff replaces the interval sleep after a failed tick.
	ErrorBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.ForwardDelay <= 0 {
		c.ForwardDelay = DefaultForwardDelay
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	return c
}

// Source is what a tick reads. relay.Registry satisfies it.
type Source interface {
	Settings(ctx context.Context) (relay.Settings, error)
	ListActive(ctx context.Context) ([]relay.Post, error)
	ListDestinations(ctx context.Context) ([]int64, error)
}

// Transport forwards one stored message to one chat.
type Transport interface {
	Forward(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error
}

// TickReport summarizes one completed tick.
type TickReport struct {
	At           time.Time
	Interval     time.Duration
	Posts        int
	Destinations int
	Attempted    int
	Failed       int
	Took         time.Duration
}

// Status is a snapshot of the forwarding state.
type Status struct {
	Running    bool
	Since      time.Time
	Generation uint64
	Ticks      uint64
	Failures   uint64
	LastTick   TickReport
	LastError  string
}
