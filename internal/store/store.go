package store

import (
	"context"
	"errors"

	"github.com/eldtechnologies/whisper/internal/models"
)

var (
	// ErrDuplicate is returned when a unique username or email is taken.
	ErrDuplicate = errors.New("duplicate key")
	// ErrInvalidID is returned when an identifier is not valid for the backend.
	ErrInvalidID = errors.New("invalid identifier")
)

// DataStore defines the interface for persistent storage of users and messages.
// Both MongoStore and SQLiteStore implement this interface.
//
// Lookups return (nil, nil) when the record does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, email, passwordHash, picture string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	ListOnlineUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, id, username, email, passwordHash string) (*models.User, error)
	DeleteUser(ctx context.Context, id string) (bool, error)
	SetOnline(ctx context.Context, id string, online bool) error
	CountUsers(ctx context.Context) (int64, error)

	// Message operations
	CreateMessage(ctx context.Context, sender, receiver, body string) (*models.Message, error)
	ListMessagesBetween(ctx context.Context, a, b string) ([]models.Message, error)
	CountMessages(ctx context.Context) (int64, error)
}
