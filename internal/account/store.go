package account

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no account exists for an ID.
var ErrNotFound = errors.New("account: not found")

// Store is the opaque persistence contract for account snapshots.
// Implementations include PostgreSQL (source of truth), a Redis
// read-through cache wrapper, and in-memory (for testing).
type Store interface {
	// Get loads an account snapshot by ID.
	Get(ctx context.Context, accountID string) (*Account, error)

	// Put saves an account snapshot, replacing any existing one.
	Put(ctx context.Context, a *Account) error

	// ListIDs returns every stored account ID.
	ListIDs(ctx context.Context) ([]string, error)

	// Delete removes an account snapshot. Deleting a missing account is
	// not an error.
	Delete(ctx context.Context, accountID string) error
}
