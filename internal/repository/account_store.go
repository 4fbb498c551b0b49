package repository

import (
	"context"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

// AccountStore is the credential store contract shared by the Redis and
// MySQL backends.
type AccountStore interface {
	// Get returns the stored account or ErrNotFound.
	Get(ctx context.Context, email string) (model.Account, error)
	// Put overwrites the record for acc.Email, creating it if needed.
	Put(ctx context.Context, acc model.Account) error
	// Exists reports whether a record is stored for email.
	Exists(ctx context.Context, email string) (bool, error)
	// Create stores acc only if no record exists yet, else ErrAlreadyExists.
	Create(ctx context.Context, acc model.Account) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
