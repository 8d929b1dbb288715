package relay

import "sync"

// Member is a connection that can sit in a channel.
type Member interface {
	UserID() string
	// Deliver queues frame without blocking and reports whether it was queued.
	Deliver(frame []byte) bool
	Close() error
}

// Registry maps each identity to the set of its live connections. A channel
// exists while it has at least one member.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[Member]struct{}
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]map[Member]struct{})}
}

// Join adds m to the channel of its identity and returns the channel size.
func (r *Registry) Join(m Member) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[m.UserID()]
	if !ok {
		ch = make(map[Member]struct{})
		r.channels[m.UserID()] = ch
	}
	ch[m] = struct{}{}
	return len(ch)
}

// Leave removes m from its channel and returns the members left.
func (r *Registry) Leave(m Member) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[m.UserID()]
	if !ok {
		return 0
	}
	delete(ch, m)
	if len(ch) == 0 {
		delete(r.channels, m.UserID())
		return 0
	}
	return len(ch)
}

// Broadcast queues frame on every member of channel and returns how many
// accepted it. Broadcasting to an empty channel is a no-op.
func (r *Registry) Broadcast(channel string, frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for m := range r.channels[channel] {
		if m.Deliver(frame) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of members in channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// Members returns a snapshot of every member across all channels.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Member
	for _, ch := range r.channels {
		for m := range ch {
			all = append(all, m)
		}
	}
	return all
}
