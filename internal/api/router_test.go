package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/whisper/internal/config"
	"github.com/eldtechnologies/whisper/internal/models"
	"github.com/eldtechnologies/whisper/internal/presence"
	"github.com/eldtechnologies/whisper/internal/relay"
	"github.com/eldtechnologies/whisper/internal/session"
	"github.com/eldtechnologies/whisper/internal/store"
)

type testServer struct {
	*httptest.Server
	db    *store.SQLiteStore
	relay *relay.Relay
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "whisper.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	rs := store.NewRedisStoreFromClient(rc)

	cfg := &config.Config{
		Env:            "test",
		SessionSecret:  "test-secret",
		SessionTTL:     time.Hour,
		AllowedOrigins: []string{"*"},
	}
	logger := zerolog.Nop()

	sessions := session.NewManager(rs, session.Options{Secret: cfg.SessionSecret, TTL: cfg.SessionTTL}, logger)
	online := presence.NewRegistry(db, logger)
	socket := relay.New(sessions, db, online, logger, relay.Options{})

	router := NewRouter(cfg, logger, Deps{
		DB:       db,
		Redis:    rs,
		Sessions: sessions,
		Presence: online,
		Socket:   socket,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = socket.Shutdown(ctx)
	})

	return &testServer{Server: srv, db: db, relay: socket}
}

type envelope struct {
	Message string          `json:"message"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// browser is an HTTP client with its own cookie jar.
type browser struct {
	t    *testing.T
	base string
	http *http.Client
}

func (ts *testServer) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: ts.URL, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

func (b *browser) do(method, path string, body any) (int, envelope) {
	b.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, b.base+path, reader)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (b *browser) register(username string) models.User {
	b.t.Helper()
	status, env := b.do("POST", "/api/users/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret-" + username,
	})
	require.Equal(b.t, http.StatusCreated, status, env.Message)

	var user models.User
	require.NoError(b.t, json.Unmarshal(env.Data, &user))
	return user
}

func (b *browser) login(username string) models.User {
	b.t.Helper()
	status, env := b.do("POST", "/api/users/login", map[string]string{
		"email":    username + "@example.com",
		"password": "secret-" + username,
	})
	require.Equal(b.t, http.StatusOK, status, env.Message)

	var user models.User
	require.NoError(b.t, json.Unmarshal(env.Data, &user))
	return user
}

func (b *browser) dial() (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{Jar: b.http.Jar, HandshakeTimeout: 5 * time.Second}
	return dialer.Dial("ws"+strings.TrimPrefix(b.base, "http")+"/ws", nil)
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", resp.Header.Get("Content-Security-Policy"))

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(health.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "pass", body.Checks["datastore"].Status)
	assert.Equal(t, "pass", body.Checks["redis"].Status)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)
	b := ts.browser(t)

	user := b.register("alice")
	assert.Equal(t, "alice", user.Username)
	assert.Contains(t, models.DefaultAvatars, user.ProfilePicture)
	assert.False(t, user.IsOnline)

	tests := []struct {
		name   string
		body   map[string]string
		status int
		msg    string
	}{
		{"missing password", map[string]string{"username": "bob", "email": "bob@example.com"}, http.StatusBadRequest, "All fields are required"},
		{"bad email", map[string]string{"username": "bob", "email": "bob", "password": "secret-bob"}, http.StatusBadRequest, "invalid email format"},
		{"short password", map[string]string{"username": "bob", "email": "bob@example.com", "password": "x"}, http.StatusBadRequest, "password must be at least 6 characters"},
		{"duplicate email", map[string]string{"username": "alice2", "email": "ALICE@example.com", "password": "secret-a"}, http.StatusConflict, "username or email already taken"},
		{"duplicate username", map[string]string{"username": "alice", "email": "a2@example.com", "password": "secret-a"}, http.StatusConflict, "username or email already taken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := b.do("POST", "/api/users/register", tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.Equal(t, tt.msg, env.Message)
		})
	}
}

func TestRegisterRequiresJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/users/register", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestLoginLogout(t *testing.T) {
	ts := newTestServer(t)
	b := ts.browser(t)
	b.register("alice")

	status, env := b.do("POST", "/api/users/login", map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid email or password", env.Message)

	status, _ = b.do("POST", "/api/users/login", map[string]string{"email": "nobody@example.com", "password": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, status)

	user := b.login("alice")
	assert.True(t, user.IsOnline, "login marks the user online")

	status, env = b.do("GET", "/api/messages/users/online", nil)
	require.Equal(t, http.StatusOK, status)
	online := decodeData[[]models.PublicUser](t, env)
	require.Len(t, online, 1)
	assert.Equal(t, user.ID, online[0].ID)

	status, env = b.do("POST", "/api/users/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, env = b.do("GET", "/api/messages/users/online", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "authentication required", env.Error)
}

func TestUserCRUD(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.browser(t)
	bob := ts.browser(t)

	a := alice.register("alice")
	bUser := bob.register("bob")
	alice.login("alice")
	bob.login("bob")

	status, env := alice.do("GET", "/api/users", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(env.Data), "email", "list shows public profiles")
	assert.Len(t, decodeData[[]models.PublicUser](t, env), 2)

	status, env = alice.do("GET", "/api/users/"+bUser.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", decodeData[models.PublicUser](t, env).Username)

	status, _ = alice.do("GET", "/api/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = alice.do("PUT", "/api/users/edit/"+bUser.ID, map[string]string{"username": "x", "email": "x@example.com", "password": "secret-x"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = alice.do("PUT", "/api/users/edit/"+a.ID, map[string]string{"username": "alicia", "email": "alicia@example.com", "password": "new-secret"})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, "alicia", decodeData[models.User](t, env).Username)

	status, _ = alice.do("POST", "/api/users/login", map[string]string{"email": "alicia@example.com", "password": "new-secret"})
	assert.Equal(t, http.StatusOK, status, "new password works")

	status, _ = bob.do("DELETE", "/api/users/delete/"+a.ID, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = alice.do("DELETE", "/api/users/delete/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = alice.do("GET", "/api/messages/users/online", nil)
	assert.Equal(t, http.StatusUnauthorized, status, "sessions of a deleted user are revoked")

	status, _ = bob.do("GET", "/api/users/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSocketRejectsWithoutSession(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := ts.browser(t).dial()
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.browser(t)
	bob := ts.browser(t)

	a := alice.register("alice")
	bUser := bob.register("bob")
	alice.login("alice")
	bob.login("bob")

	aws, resp, err := alice.dial()
	require.NoError(t, err)
	resp.Body.Close()
	defer aws.Close()

	bws, resp, err := bob.dial()
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return ts.relay.Channels().Count(a.ID) == 1 && ts.relay.Channels().Count(bUser.ID) == 1
	}, 2*time.Second, 5*time.Millisecond)

	send := func(body string) {
		data, _ := json.Marshal(map[string]string{"message": body, "receiver": bUser.ID})
		require.NoError(t, aws.WriteJSON(relay.Frame{Event: relay.EventMessageSend, Data: data}))
	}
	read := func(ws *websocket.Conn) relay.Frame {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f relay.Frame
		require.NoError(t, ws.ReadJSON(&f))
		return f
	}

	send("hi")
	got := read(bws)
	require.Equal(t, relay.EventMessageReceiver, got.Event)
	var msg models.Message
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, a.ID, msg.Sender)
	assert.Equal(t, bUser.ID, msg.Receiver)
	assert.Equal(t, "hi", msg.Body)
	assert.Equal(t, relay.EventMessageSender, read(aws).Event)

	send("how are you")
	read(bws)
	read(aws)

	status, env := bob.do("GET", "/api/messages/"+a.ID, nil)
	require.Equal(t, http.StatusOK, status)
	history := decodeData[[]models.Message](t, env)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Body)
	assert.Equal(t, "how are you", history[1].Body)

	// Closing bob's only socket clears his online flag.
	require.NoError(t, bws.Close())
	require.Eventually(t, func() bool {
		u, err := ts.db.GetUserByID(context.Background(), bUser.ID)
		return err == nil && u != nil && !u.IsOnline
	}, 2*time.Second, 10*time.Millisecond)
}
