package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/whisper/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Sessions issues and destroys login sessions.
type Sessions interface {
	Create(ctx context.Context, w http.ResponseWriter, userID string) error
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	DestroyUser(ctx context.Context, userID string) error
}

// Presence sets the online flag at login and reports live connections.
type Presence interface {
	MarkOnline(ctx context.Context, userID string)
	Online() []string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	sessions Sessions
	presence Presence
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given stores and collaborators.
func NewHandler(db store.DataStore, redis *store.RedisStore, sessions Sessions, presence Presence, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		redis:    redis,
		sessions: sessions,
		presence: presence,
		logger:   logger,
	}
}

// Response is the envelope of every API response.
type Response struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// OK sends a successful envelope.
func (h *Handler) OK(w http.ResponseWriter, status int, message string, data any) {
	h.JSON(w, status, Response{Message: message, Success: true, Data: data})
}

// Error sends a failed envelope with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, Response{Message: message, Success: false})
}

// decode reads a JSON body into v, reporting failures to the client.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sanitizeName trims and limits name to 50 characters, removing control characters.
const maxNameLength = 50

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// normalizeEmail lowercases and trims an email address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
