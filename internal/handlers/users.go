package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/whisper/internal/api/middleware"
	"github.com/eldtechnologies/whisper/internal/crypto"
	"github.com/eldtechnologies/whisper/internal/models"
	"github.com/eldtechnologies/whisper/internal/store"
)

// ListUsers returns every user's public profile.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list users")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.OK(w, http.StatusOK, "Users fetched successfully", publicUsers(users))
}

// GetUser returns one user's public profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.db.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "User not found")
		return
	}

	h.OK(w, http.StatusOK, "User fetched successfully", user.Public())
}

// UpdateUser replaces the caller's username, email and password.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}

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
		h.Error(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	user, err := h.db.UpdateUser(r.Context(), id, req.Username, req.Email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		h.Error(w, http.StatusConflict, "username or email already taken")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id).Msg("failed to update user")
		h.Error(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "User not found")
		return
	}

	h.OK(w, http.StatusOK, "User updated successfully", user)
}

// DeleteUser removes the caller's account and signs out all its sessions.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}

	deleted, err := h.db.DeleteUser(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id).Msg("failed to delete user")
		h.Error(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	if !deleted {
		h.Error(w, http.StatusNotFound, "User not found")
		return
	}

	if err := h.sessions.DestroyUser(r.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("user_id", id).Msg("failed to revoke sessions of deleted user")
	}
	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.logger.Warn().Err(err).Str("user_id", id).Msg("failed to clear session cookie")
	}

	h.logger.Info().Str("user_id", id).Msg("user deleted")
	h.OK(w, http.StatusOK, "User deleted successfully", nil)
}

// self returns the {id} path parameter if it names the caller.
func (h *Handler) self(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id != middleware.UserIDFromContext(r.Context()) {
		h.Error(w, http.StatusForbidden, "you can only change your own account")
		return "", false
	}
	return id, true
}

func publicUsers(users []models.User) []models.PublicUser {
	out := make([]models.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out
}
