package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/whisper/internal/api/middleware"
)

// History returns the messages between the caller and {id}, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserIDFromContext(r.Context())
	other := chi.URLParam(r, "id")

	messages, err := h.db.ListMessagesBetween(r.Context(), caller, other)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", caller).Str("peer", other).Msg("failed to load history")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.OK(w, http.StatusOK, "Messages fetched successfully", messages)
}

// OnlineUsers returns users whose online flag is set.
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListOnlineUsers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list online users")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.OK(w, http.StatusOK, "Online users fetched successfully", publicUsers(users))
}
