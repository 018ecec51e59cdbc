package router

import (
	"sync"
	"time"
)

type promptKey struct {
	chatID int64
	userID int64
}

type pendingPrompt struct {
	command string
	args    []string
	expires time.Time
}

// promptBook remembers which command is waiting for a user's next message.
// At most one prompt is open per chat and user; opening another replaces it.
type promptBook struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[promptKey]pendingPrompt
}

func newPromptBook(ttl time.Duration) *promptBook {
	return &promptBook{ttl: ttl, now: time.Now, m: map[promptKey]pendingPrompt{}}
}

func (b *promptBook) Begin(k promptKey, p pendingPrompt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for key, v := range b.m {
		if now.After(v.expires) {
			delete(b.m, key)
		}
	}
	p.expires = now.Add(b.ttl)
	b.m[k] = p
}

// Take removes and returns the open prompt for k.
func (b *promptBook) Take(k promptKey) (pendingPrompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.m[k]
	if !ok {
		return pendingPrompt{}, false
	}
	delete(b.m, k)
	if b.now().After(p.expires) {
		return pendingPrompt{}, false
	}
	return p, true
}

func (b *promptBook) Cancel(k promptKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.m[k]
	if !ok {
		return false
	}
	delete(b.m, k)
	return !b.now().After(p.expires)
}
