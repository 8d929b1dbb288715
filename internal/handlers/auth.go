package handlers

import (
	"errors"
	"math/rand"
	"net/http"

	"github.com/eldtechnologies/whisper/internal/api/middleware"
	"github.com/eldtechnologies/whisper/internal/crypto"
	"github.com/eldtechnologies/whisper/internal/metrics"
	"github.com/eldtechnologies/whisper/internal/models"
	"github.com/eldtechnologies/whisper/internal/store"
)

const (
	minPasswordLength = 6
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

// CredentialsRequest is the body of register and edit requests.
type CredentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// normalize cleans the fields and returns a client-facing message for the
// first invalid one, or "".
func (req *CredentialsRequest) normalize() string {
	req.Username = sanitizeName(req.Username)
	req.Email = normalizeEmail(req.Email)

	switch {
	case req.Username == "" || req.Email == "" || req.Password == "":
		return "All fields are required"
	case !isValidEmail(req.Email):
		return "invalid email format"
	case len(req.Password) < minPasswordLength:
		return "password must be at least 6 characters"
	case len(req.Password) > maxPasswordLength:
		return "password must be at most 72 bytes"
	}
	return ""
}

// LoginRequest is the body of a login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a user account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if msg := req.normalize(); msg != "" {
		h.Error(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to hash password")
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	picture := models.DefaultAvatars[rand.Intn(len(models.DefaultAvatars))]
	user, err := h.db.CreateUser(r.Context(), req.Username, req.Email, hash, picture)
	if errors.Is(err, store.ErrDuplicate) {
		h.Error(w, http.StatusConflict, "username or email already taken")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create user")
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	metrics.UsersRegistered.Inc()
	h.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	h.OK(w, http.StatusCreated, "User created successfully", user)
}

// Login verifies credentials, starts a session and marks the user online.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "All fields are required")
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		h.Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := h.sessions.Create(r.Context(), w, user.ID); err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to create session")
		h.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.presence.MarkOnline(r.Context(), user.ID)
	user.IsOnline = true

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	h.logger.Info().Str("user_id", user.ID).Msg("user logged in")
	h.OK(w, http.StatusOK, "User logged in successfully", user)
}

// Logout ends the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.logger.Error().Err(err).Msg("failed to destroy session")
		h.Error(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	h.logger.Info().Str("user_id", middleware.UserIDFromContext(r.Context())).Msg("user logged out")
	h.OK(w, http.StatusOK, "User logged out successfully", nil)
}
