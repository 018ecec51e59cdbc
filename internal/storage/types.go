package storage

import (
	"context"
	"time"

	"relaybot/internal/relay"
)

// Config selects and configures a driver.
//
// Driver values: "sqlite" (default), "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type Admin struct {
	UserID   int64
	Username string
	AddedBy  int64
	AddedAt  time.Time
}

// AuditEntry records one admin action.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Action        string
	Target        string
	OK            bool
	Error         string
}

// Store is the full persistence API: the relay collections plus admins
// and audit.
type Store interface {
	relay.Store

	AddAdmin(ctx context.Context, a Admin) (bool, error)
	RemoveAdmin(ctx context.Context, userID int64) (bool, error)
	ListAdmins(ctx context.Context) ([]Admin, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}
