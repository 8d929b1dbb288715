package whisper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/whisper/internal/api"
	"github.com/eldtechnologies/whisper/internal/config"
	"github.com/eldtechnologies/whisper/internal/presence"
	"github.com/eldtechnologies/whisper/internal/relay"
	"github.com/eldtechnologies/whisper/internal/session"
	"github.com/eldtechnologies/whisper/internal/store"
)

func startServer(t *testing.T) (string, *relay.Relay) {
	t.Helper()

	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "whisper.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	mr := miniredis.RunT(t)
	rs := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rs.Close() })

	cfg := &config.Config{SessionSecret: "client-test", SessionTTL: time.Hour, AllowedOrigins: []string{"*"}}
	logger := zerolog.Nop()
	sessions := session.NewManager(rs, session.Options{Secret: cfg.SessionSecret, TTL: cfg.SessionTTL}, logger)
	online := presence.NewRegistry(db, logger)
	socket := relay.New(sessions, db, online, logger, relay.Options{})

	srv := httptest.NewServer(api.NewRouter(cfg, logger, api.Deps{
		DB: db, Redis: rs, Sessions: sessions, Presence: online, Socket: socket,
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = socket.Shutdown(ctx)
	})
	return srv.URL, socket
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Setenv("WHISPER_CONFIG", t.TempDir())
	return NewClient(baseURL)
}

func TestRegisterLoginAndSavedSession(t *testing.T) {
	base, _ := startServer(t)
	c := newTestClient(t, base)

	user, err := c.Register("alice", "alice@example.com", "secret-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = c.Register("alice", "other@example.com", "secret-alice")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "username or email already taken", apiErr.Message)

	_, err = c.OnlineUsers()
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "authentication required", apiErr.Message)

	logged, err := c.Login("alice@example.com", "secret-alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, c.UserID)
	assert.True(t, logged.IsOnline)
	require.NoError(t, c.SaveConfig())

	// A fresh client with the same config dir reuses the session.
	restored := NewClient(base)
	assert.Equal(t, user.ID, restored.UserID)
	online, err := restored.OnlineUsers()
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, user.ID, online[0].ID)

	require.NoError(t, restored.Logout())
	require.NoError(t, restored.ClearConfig())
	require.NoError(t, restored.ClearConfig(), "clearing twice is fine")

	_, err = c.OnlineUsers()
	assert.Error(t, err, "logout ended the shared session")
}

func TestUpdateAndDeleteAccount(t *testing.T) {
	base, _ := startServer(t)
	c := newTestClient(t, base)

	_, err := c.Register("alice", "alice@example.com", "secret-alice")
	require.NoError(t, err)
	_, err = c.Login("alice@example.com", "secret-alice")
	require.NoError(t, err)

	updated, err := c.UpdateUser("alicia", "alicia@example.com", "new-secret")
	require.NoError(t, err)
	assert.Equal(t, "alicia", updated.Username)

	got, err := c.GetUser(updated.ID)
	require.NoError(t, err)
	assert.Equal(t, "alicia", got.Username)
	assert.Empty(t, got.Email, "profiles are public")

	id := c.UserID
	require.NoError(t, c.DeleteAccount())
	assert.Empty(t, c.UserID)

	_, err = c.GetUser(id)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSocketMessaging(t *testing.T) {
	base, socket := startServer(t)
	ctx := context.Background()

	alice := newTestClient(t, base)
	bob := NewClient(base)

	_, err := alice.Register("alice", "alice@example.com", "secret-alice")
	require.NoError(t, err)
	_, err = bob.Register("bob", "bob@example.com", "secret-bob")
	require.NoError(t, err)
	_, err = alice.Login("alice@example.com", "secret-alice")
	require.NoError(t, err)
	_, err = bob.Login("bob@example.com", "secret-bob")
	require.NoError(t, err)

	as, err := alice.Dial(ctx)
	require.NoError(t, err)
	defer as.Close()
	bs, err := bob.Dial(ctx)
	require.NoError(t, err)
	defer bs.Close()

	require.Eventually(t, func() bool {
		return socket.Channels().Count(alice.UserID) == 1 && socket.Channels().Count(bob.UserID) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, as.Typing(bob.UserID, true))
	ev, err := bs.Next()
	require.NoError(t, err)
	assert.Equal(t, EventTypingStart, ev.Name)
	assert.Equal(t, alice.UserID, ev.Sender())

	require.NoError(t, as.Send(bob.UserID, "hello bob"))
	ev, err = bs.Next()
	require.NoError(t, err)
	require.Equal(t, EventMessageReceiver, ev.Name)
	m, err := ev.Message()
	require.NoError(t, err)
	assert.Equal(t, "hello bob", m.Body)
	assert.Equal(t, alice.UserID, m.Sender)

	ev, err = as.Next()
	require.NoError(t, err)
	assert.Equal(t, EventMessageSender, ev.Name)

	require.NoError(t, as.Send(bob.UserID, ""))
	ev, err = as.Next()
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Name)
	assert.Equal(t, "message is required", ev.ErrorMessage())

	history, err := bob.History(alice.UserID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello bob", history[0].Body)
}

func TestDialWithoutSession(t *testing.T) {
	base, _ := startServer(t)
	c := newTestClient(t, base)

	_, err := c.Dial(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "authentication error", apiErr.Message)
}

func TestHealth(t *testing.T) {
	base, _ := startServer(t)

	health, err := newTestClient(t, base).Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Checks, "redis")
}
