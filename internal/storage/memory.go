package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"relaybot/internal/relay"
)

// Memory is a process-local Store. Collections keep insertion order.
type Memory struct {
	mu sync.Mutex

	sources      []int64
	destinations []int64
	posts        []relay.Post
	postIdx      map[string]int
	settings     relay.Settings
	admins       []Admin
	audit        []AuditEntry
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{postIdx: map[string]int{}, settings: relay.DefaultSettings}
}

func addUnique(list []int64, id int64) ([]int64, bool) {
	if slices.Contains(list, id) {
		return list, false
	}
	return append(list, id), true
}

func removeID(list []int64, id int64) ([]int64, bool) {
	i := slices.Index(list, id)
	if i < 0 {
		return list, false
	}
	return slices.Delete(list, i, i+1), true
}

func (m *Memory) AddSource(_ context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.sources, ok = addUnique(m.sources, chatID)
	return ok, nil
}

func (m *Memory) RemoveSource(_ context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.sources, ok = removeID(m.sources, chatID)
	return ok, nil
}

func (m *Memory) ListSources(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sources), nil
}

func (m *Memory) HasSource(_ context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.sources, chatID), nil
}

func (m *Memory) AddDestination(_ context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.destinations, ok = addUnique(m.destinations, chatID)
	return ok, nil
}

func (m *Memory) RemoveDestination(_ context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.destinations, ok = removeID(m.destinations, chatID)
	return ok, nil
}

func (m *Memory) ListDestinations(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.destinations), nil
}

func (m *Memory) InsertPost(_ context.Context, p relay.Post) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.postIdx[p.ID]; exists {
		return false, nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.postIdx[p.ID] = len(m.posts)
	m.posts = append(m.posts, p)
	return true, nil
}

func (m *Memory) GetPost(_ context.Context, id string) (relay.Post, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.postIdx[id]
	if !ok {
		return relay.Post{}, false, nil
	}
	return m.posts[i], true, nil
}

func (m *Memory) TogglePost(_ context.Context, id string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.postIdx[id]
	if !ok {
		return false, false, nil
	}
	m.posts[i].Active = !m.posts[i].Active
	return m.posts[i].Active, true, nil
}

func (m *Memory) ListPosts(_ context.Context, active bool) ([]relay.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []relay.Post
	for _, p := range m.posts {
		if p.Active == active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Settings(context.Context) (relay.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *Memory) SetSettings(_ context.Context, s relay.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

func (m *Memory) AddAdmin(_ context.Context, a Admin) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.admins {
		if x.UserID == a.UserID {
			return false, nil
		}
	}
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}
	m.admins = append(m.admins, a)
	return true, nil
}

func (m *Memory) RemoveAdmin(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.admins {
		if x.UserID == userID {
			m.admins = slices.Delete(m.admins, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListAdmins(context.Context) ([]Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.admins), nil
}

func (m *Memory) IsAdmin(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.admins {
		if x.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.audit = append(m.audit, e)
	return nil
}

// RecentAudit returns the newest entries first.
func (m *Memory) RecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]AuditEntry, 0, min(limit, len(m.audit)))
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
