// Package presence tracks which users hold live socket connections and keeps
// the persistent online flag in step with that count.
package presence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// OnlineSetter persists a user's online flag.
type OnlineSetter interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// entry is one user's connection count. mu is held across the flag write so
// a user's writes land in the order of their transitions; other users are
// not held up.
type entry struct {
	mu    sync.Mutex
	count atomic.Int32
	gone  bool
}

// Registry reference-counts live connections per user. The online flag is
// written on the first connection and cleared when the last one closes.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	users   OnlineSetter
	logger  zerolog.Logger
}

// NewRegistry creates a presence registry writing through to users.
func NewRegistry(users OnlineSetter, logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		users:   users,
		logger:  logger,
	}
}

// acquire returns userID's entry, locked. The registry lock is never held
// while waiting on an entry.
func (p *Registry) acquire(userID string) *entry {
	for {
		p.mu.Lock()
		e, ok := p.entries[userID]
		if !ok {
			e = &entry{}
			p.entries[userID] = e
		}
		p.mu.Unlock()

		e.mu.Lock()
		if !e.gone {
			return e
		}
		// Dropped while we waited; look again.
		e.mu.Unlock()
	}
}

// release unlocks e, dropping it once it holds no connections.
func (p *Registry) release(userID string, e *entry) {
	if e.count.Load() == 0 {
		e.gone = true
		p.mu.Lock()
		if p.entries[userID] == e {
			delete(p.entries, userID)
		}
		p.mu.Unlock()
	}
	e.mu.Unlock()
}

// Connected records a new live connection for userID.
func (p *Registry) Connected(ctx context.Context, userID string) {
	e := p.acquire(userID)
	defer p.release(userID, e)

	if e.count.Add(1) == 1 {
		p.write(ctx, userID, true)
	}
}

// Disconnected records the end of a live connection for userID.
func (p *Registry) Disconnected(ctx context.Context, userID string) {
	e := p.acquire(userID)
	defer p.release(userID, e)

	if e.count.Load() == 0 {
		return
	}
	if e.count.Add(-1) == 0 {
		p.write(ctx, userID, false)
	}
}

// MarkOnline sets the online flag without a live connection, as on login.
func (p *Registry) MarkOnline(ctx context.Context, userID string) {
	e := p.acquire(userID)
	defer p.release(userID, e)
	p.write(ctx, userID, true)
}

// Connections returns the number of live connections held by userID.
func (p *Registry) Connections(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[userID]; ok {
		return int(e.count.Load())
	}
	return 0
}

// Online returns the users that currently hold at least one connection.
func (p *Registry) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.entries))
	for id, e := range p.entries {
		if e.count.Load() > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Registry) write(ctx context.Context, userID string, online bool) {
	if err := p.users.SetOnline(ctx, userID, online); err != nil {
		p.logger.Error().
			Err(err).
			Str("user_id", userID).
			Bool("online", online).
			Msg("failed to update online flag")
	}
}
