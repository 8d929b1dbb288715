package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMember struct {
	user   string
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (m *fakeMember) UserID() string { return m.user }
func (m *fakeMember) Close() error   { return nil }

func (m *fakeMember) Deliver(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func (m *fakeMember) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeMember{user: "a"}
	a2 := &fakeMember{user: "a"}
	b := &fakeMember{user: "b"}

	assert.Equal(t, 1, r.Join(a1))
	assert.Equal(t, 2, r.Join(a2))
	assert.Equal(t, 1, r.Join(b))
	assert.Len(t, r.Members(), 3)

	assert.Equal(t, 1, r.Leave(a1))
	assert.Equal(t, 0, r.Leave(a2))
	assert.Equal(t, 0, r.Count("a"))
	assert.Equal(t, 0, r.Leave(a2), "leaving twice is harmless")
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeMember{user: "a"}
	a2 := &fakeMember{user: "a"}
	full := &fakeMember{user: "a", full: true}
	b := &fakeMember{user: "b"}
	r.Join(a1)
	r.Join(a2)
	r.Join(full)
	r.Join(b)

	assert.Equal(t, 2, r.Broadcast("a", []byte("x")))
	assert.Equal(t, 1, a1.received())
	assert.Equal(t, 1, a2.received())
	assert.Equal(t, 0, b.received())

	assert.Equal(t, 0, r.Broadcast("nobody", []byte("x")))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{user: fmt.Sprintf("u%d", i%4)}
			r.Join(m)
			r.Broadcast(m.user, []byte("x"))
			r.Leave(m)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.Members())
}
