// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/lettagram/lettagram/internal/domain"
)

// ErrUnavailable indicates the durable store could not complete an
// operation. Fatal for the current request, not for the process.
var ErrUnavailable = errors.New("store unavailable")

// Repository defines the interface for persisting per-user credentials,
// per-chat agent selections, and per-user shortcuts. Each record is
// independently consistent; no cross-record transactions are required.
type Repository interface {
	// GetCredential retrieves the encrypted credential record for a user.
	// Returns nil (no error) when the user has never logged in.
	GetCredential(ctx context.Context, userID string) (*domain.CredentialRecord, error)

	// PutCredential creates or replaces a user's credential record.
	PutCredential(ctx context.Context, rec *domain.CredentialRecord) error

	// DeleteCredential removes a user's credential record. Idempotent.
	DeleteCredential(ctx context.Context, userID string) error

	// GetAgent retrieves the agent selection for a chat.
	// Returns nil (no error) when the chat has no agent selected.
	GetAgent(ctx context.Context, chatID int64) (*domain.AgentSelection, error)

	// SetAgent creates or replaces a chat's agent selection. Overwrite
	// semantics, no merge.
	SetAgent(ctx context.Context, sel *domain.AgentSelection) error

	// ClearAgent removes a chat's agent selection. Idempotent.
	ClearAgent(ctx context.Context, chatID int64) error

	// ListShortcuts returns a user's shortcuts in creation order.
	ListShortcuts(ctx context.Context, userID string) ([]*domain.Shortcut, error)

	// GetShortcut retrieves one shortcut by exact name.
	// Returns nil (no error) when absent.
	GetShortcut(ctx context.Context, userID, name string) (*domain.Shortcut, error)

	// SetShortcut creates or replaces a shortcut. Upsert by name.
	SetShortcut(ctx context.Context, sc *domain.Shortcut) error

	// DeleteShortcut removes a shortcut. Returns false when the name did
	// not exist; a reportable miss, not an error.
	DeleteShortcut(ctx context.Context, userID, name string) (bool, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
