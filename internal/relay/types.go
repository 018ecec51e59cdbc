package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the unit of the broadcast interval.
type Unit string

const (
	UnitSecond Unit = "second"
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
)

// ParseUnit accepts the canonical names plus common short and plural forms.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "sec", "secs", "second", "seconds":
		return UnitSecond, nil
	case "m", "min", "mins", "minute", "minutes":
		return UnitMinute, nil
	case "h", "hr", "hrs", "hour", "hours":
		return UnitHour, nil
	}
	return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidInterval, s)
}

func (u Unit) seconds() int64 {
	switch u {
	case UnitMinute:
		return 60
	case UnitHour:
		return 3600
	}
	return 1
}

// Settings is the broadcast interval as stored.
type Settings struct {
	Interval int
	Unit     Unit
}

// DefaultSettings is what a fresh store starts with.
var DefaultSettings = Settings{Interval: 5, Unit: UnitSecond}

func (s Settings) Validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidInterval, s.Interval)
	}
	switch s.Unit {
	case UnitSecond, UnitMinute, UnitHour:
		return nil
	}
	return fmt.Errorf("%w: unknown unit %q", ErrInvalidInterval, s.Unit)
}

// Seconds converts the interval to seconds. An unknown unit counts as seconds.
func (s Settings) Seconds() int64 { return int64(s.Interval) * s.Unit.seconds() }

func (s Settings) Duration() time.Duration { return time.Duration(s.Seconds()) * time.Second }

func (s Settings) String() string { return strconv.Itoa(s.Interval) + " " + string(s.Unit) }

// Post is one broadcastable item. ID is either the ad number found in the
// content or a FallbackPrefix id built from the source chat and message id.
type Post struct {
	ID         string
	SourceRef  int64
	MessageRef int
	Link       string
	Active     bool
	CreatedAt  time.Time
}

type PostSummary struct {
	ID   string
	Link string
}

// Toggled is published after a post changes state.
type Toggled struct {
	ID     string
	Active bool
}

// Store is the persistence the relay needs. Insert and add report false on
// an existing key; remove reports whether a row was affected.
type Store interface {
	AddSource(ctx context.Context, chatID int64) (bool, error)
	RemoveSource(ctx context.Context, chatID int64) (bool, error)
	ListSources(ctx context.Context) ([]int64, error)
	HasSource(ctx context.Context, chatID int64) (bool, error)

	AddDestination(ctx context.Context, chatID int64) (bool, error)
	RemoveDestination(ctx context.Context, chatID int64) (bool, error)
	ListDestinations(ctx context.Context) ([]int64, error)

	InsertPost(ctx context.Context, p Post) (bool, error)
	GetPost(ctx context.Context, id string) (Post, bool, error)
	// TogglePost flips active atomically and returns the new value.
	TogglePost(ctx context.Context, id string) (active bool, found bool, err error)
	// ListPosts returns posts with the given active flag in insertion order.
	ListPosts(ctx context.Context, active bool) ([]Post, error)

	Settings(ctx context.Context) (Settings, error)
	SetSettings(ctx context.Context, s Settings) error
}

// ParseChatID accepts an optional leading '-' followed by digits.
func ParseChatID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChatID, s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidChatID, s)
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChatID, s)
	}
	return id, nil
}
