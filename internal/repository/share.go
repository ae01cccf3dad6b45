package repository

import (
	"context"
	"time"

	"sharelink/internal/model"
)

// ShareRepository defines data access for shares using SQL queries only.
// No business logic here, strictly persistence operations.
type ShareRepository interface {
	// Create inserts a new share record and returns the stored row.
	Create(ctx context.Context, share *model.Share) (*model.Share, error)

	// FindByToken returns the share with the given token, or ErrNotFound.
	// Shares marked for deletion are still returned; callers decide how to treat them.
	FindByToken(ctx context.Context, token string) (*model.Share, error)

	// FindOlderThan returns every share created strictly before the cutoff, oldest first.
	FindOlderThan(ctx context.Context, cutoff time.Time) ([]model.Share, error)

	// MarkSent sets sender and receiver only if sender is still unset and the share is not being deleted.
	// It returns ErrConflict when no row was updated.
	MarkSent(ctx context.Context, token, sender, receiver string) error

	// MarkForDeletion records the intent to delete the share. Idempotent.
	MarkForDeletion(ctx context.Context, token string, at time.Time) error

	// Delete removes a share by token. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, token string) error
}
