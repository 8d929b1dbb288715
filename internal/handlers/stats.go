package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers    int64 `json:"total_users"`
	TotalMessages int64 `json:"total_messages"`
	OnlineUsers   int   `json:"online_users"`
	ConnectedNow  int   `json:"connected_users"`
}

// Stats returns aggregate counts for dashboards.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.db.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalMessages, err := h.db.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	// The flag includes users who logged in without opening a socket.
	online, err := h.db.ListOnlineUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list online users")
		return
	}

	h.OK(w, http.StatusOK, "Stats fetched successfully", StatsResponse{
		TotalUsers:    totalUsers,
		TotalMessages: totalMessages,
		OnlineUsers:   len(online),
		ConnectedNow:  len(h.presence.Online()),
	})
}
