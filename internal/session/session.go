// Package session issues and resolves signed session cookies backed by a
// server-side store.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/whisper/internal/crypto"
)

// CookieName is the name of the session cookie.
const CookieName = "whisper.sid"

var ErrNoSession = errors.New("no session")

// Store persists session IDs and the user they belong to.
type Store interface {
	SaveSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// Options configures a Manager.
type Options struct {
	Secret string
	TTL    time.Duration
	Secure bool
}

// Manager creates, resolves and destroys sessions.
type Manager struct {
	store  Store
	codec  *Codec
	ttl    time.Duration
	secure bool
	logger zerolog.Logger
}

// NewManager creates a session manager.
func NewManager(store Store, opts Options, logger zerolog.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Manager{
		store:  store,
		codec:  NewCodec(opts.Secret, opts.TTL),
		ttl:    opts.TTL,
		secure: opts.Secure,
		logger: logger,
	}
}

// Create starts a session for userID and sets the session cookie.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, userID string) error {
	sid, err := crypto.NewSessionID()
	if err != nil {
		return err
	}
	value, err := m.codec.Encode(sid)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	if err := m.store.SaveSession(ctx, sid, userID, m.ttl); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		Expires:  time.Now().Add(m.ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Lookup returns the user ID of the request's session.
func (m *Manager) Lookup(r *http.Request) (string, error) {
	sid, err := m.sessionID(r)
	if err != nil {
		return "", err
	}

	userID, err := m.store.GetSession(r.Context(), sid)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrNoSession
	}
	return userID, nil
}

// Resolve reports the identity bound to the request's session cookie.
// Missing, tampered and expired sessions all resolve to no identity.
func (m *Manager) Resolve(r *http.Request) (string, bool) {
	userID, err := m.Lookup(r)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.logger.Error().Err(err).Msg("session lookup failed")
		}
		return "", false
	}
	return userID, true
}

// Destroy deletes the request's session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sid, err := m.sessionID(r)
	if err == nil {
		if err := m.store.DeleteSession(ctx, sid); err != nil {
			return err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// DestroyUser deletes every session of userID, signing it out everywhere.
func (m *Manager) DestroyUser(ctx context.Context, userID string) error {
	return m.store.DeleteUserSessions(ctx, userID)
}

// sessionID extracts and verifies the session ID from the cookie.
func (m *Manager) sessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoSession
	}

	sid, err := m.codec.Decode(cookie.Value)
	if err != nil {
		return "", ErrNoSession
	}
	return sid, nil
}
