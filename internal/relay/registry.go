package relay

import (
	"context"
	"fmt"
)

// Registry is the query and mutation surface over posts, sources,
// destinations and settings. It is safe for concurrent use as long as the
// Store is.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Toggle flips a post and returns its new active state.
func (r *Registry) Toggle(ctx context.Context, id string) (bool, error) {
	active, found, err := r.store.TogglePost(ctx, id)
	if err != nil {
		return false, fmt.Errorf("toggle post %s: %w", id, err)
	}
	if !found {
		return false, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return active, nil
}

func (r *Registry) Post(ctx context.Context, id string) (Post, error) {
	p, found, err := r.store.GetPost(ctx, id)
	if err != nil {
		return Post{}, err
	}
	if !found {
		return Post{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (r *Registry) ListActive(ctx context.Context) ([]Post, error) {
	return r.store.ListPosts(ctx, true)
}

func (r *Registry) ListInactive(ctx context.Context) ([]PostSummary, error) {
	posts, err := r.store.ListPosts(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]PostSummary, 0, len(posts))
	for _, p := range posts {
		out = append(out, PostSummary{ID: p.ID, Link: p.Link})
	}
	return out, nil
}

func (r *Registry) AddSource(ctx context.Context, chatID int64) (bool, error) {
	return r.store.AddSource(ctx, chatID)
}

// RemoveSource reports ErrNotFound when chatID was not registered.
func (r *Registry) RemoveSource(ctx context.Context, chatID int64) error {
	ok, err := r.store.RemoveSource(ctx, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("source %d: %w", chatID, ErrNotFound)
	}
	return nil
}

func (r *Registry) ListSources(ctx context.Context) ([]int64, error) {
	return r.store.ListSources(ctx)
}

func (r *Registry) AddDestination(ctx context.Context, chatID int64) (bool, error) {
	return r.store.AddDestination(ctx, chatID)
}

func (r *Registry) RemoveDestination(ctx context.Context, chatID int64) error {
	ok, err := r.store.RemoveDestination(ctx, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("destination %d: %w", chatID, ErrNotFound)
	}
	return nil
}

func (r *Registry) ListDestinations(ctx context.Context) ([]int64, error) {
	return r.store.ListDestinations(ctx)
}

func (r *Registry) Settings(ctx context.Context) (Settings, error) {
	return r.store.Settings(ctx)
}

// SetInterval validates and stores a new interval. Callers restart the
// forwarder so the change applies immediately.
func (r *Registry) SetInterval(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.store.SetSettings(ctx, s)
}
