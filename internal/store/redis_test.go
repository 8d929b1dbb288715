package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, "sid-1", "u1", time.Hour))

	userID, err := s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	require.NoError(t, s.DeleteSession(ctx, "sid-1"))
	userID, err = s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestSessionExpires(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, "sid-1", "u1", time.Minute))
	mr.FastForward(2 * time.Minute)

	userID, err := s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestDeleteUserSessions(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, "a", "u1", time.Hour))
	require.NoError(t, s.SaveSession(ctx, "b", "u1", time.Hour))
	require.NoError(t, s.SaveSession(ctx, "c", "u2", time.Hour))

	require.NoError(t, s.DeleteUserSessions(ctx, "u1"))

	for _, sid := range []string{"a", "b"} {
		userID, err := s.GetSession(ctx, sid)
		require.NoError(t, err)
		assert.Empty(t, userID, sid)
	}
	userID, err := s.GetSession(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "u2", userID)
}

func TestDeleteMissingSession(t *testing.T) {
	s, _ := newTestRedis(t)
	assert.NoError(t, s.DeleteSession(context.Background(), "missing"))
}
