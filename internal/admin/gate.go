package admin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

var (
	ErrOwnerImmutable = errors.New("owners are managed in the config file")
	ErrInvalidUserID  = errors.New("invalid user id")
)

// Store is the slice of storage the gate needs.
type Store interface {
	AddAdmin(ctx context.Context, a storage.Admin) (bool, error)
	RemoveAdmin(ctx context.Context, userID int64) (bool, error)
	ListAdmins(ctx context.Context) ([]storage.Admin, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// Gate answers "may this user change the relay configuration". Owners come
// from config and can never be removed at runtime; admins live in the store.
type Gate struct {
	mu     sync.RWMutex
	owners []int64

	store Store
	log   logx.Logger
}

func NewGate(owners []int64, store Store, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{store: store, log: log.With(logx.String("comp", "admin"))}
	g.SetOwners(owners)
	return g
}

func (g *Gate) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	slices.Sort(cp)
	cp = slices.Compact(cp)
	g.mu.Lock()
	g.owners = cp
	g.mu.Unlock()
}

func (g *Gate) Owners() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.owners)
}

func (g *Gate) IsOwner(userID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := slices.BinarySearch(g.owners, userID)
	return ok
}

// IsAuthorized reports whether userID is an owner or a stored admin. A
// store failure denies access.
func (g *Gate) IsAuthorized(ctx context.Context, userID int64) bool {
	if userID == 0 {
		return false
	}
	if g.IsOwner(userID) {
		return true
	}
	if g.store == nil {
		return false
	}
	ok, err := g.store.IsAdmin(ctx, userID)
	if err != nil {
		g.log.Warn("admin lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return ok
}

// Seed records every owner in the admins table so listings show them.
func (g *Gate) Seed(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	for _, id := range g.Owners() {
		added, err := g.store.AddAdmin(ctx, storage.Admin{UserID: id, Username: "owner"})
		if err != nil {
			return fmt.Errorf("seed owner %d: %w", id, err)
		}
		if added {
			g.log.Info("owner seeded", logx.Int64("user_id", id))
		}
	}
	return nil
}

func (g *Gate) Add(ctx context.Context, userID, by int64, username string) (bool, error) {
	if userID <= 0 {
		return false, ErrInvalidUserID
	}
	return g.store.AddAdmin(ctx, storage.Admin{UserID: userID, Username: username, AddedBy: by})
}

func (g *Gate) Remove(ctx context.Context, userID int64) (bool, error) {
	if g.IsOwner(userID) {
		return false, ErrOwnerImmutable
	}
	return g.store.RemoveAdmin(ctx, userID)
}

func (g *Gate) List(ctx context.Context) ([]storage.Admin, error) {
	return g.store.ListAdmins(ctx)
}
