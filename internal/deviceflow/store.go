package deviceflow

import (
	"context"
	"time"
)

// Store is the authoritative table of device flow records, keyed by device code and by user code.
// Implementations must be safe for concurrent use. Every backing store failure is returned as
// a *StorageError and the operation must be treated as not applied.
type Store interface {
	// Create inserts a new record. It returns ErrDuplicateCode if either code already exists.
	Create(ctx context.Context, rec *Record) error

	// FindByDeviceCode returns ErrNotFound when no record has the device code
	FindByDeviceCode(ctx context.Context, deviceCode string) (*Record, error)

	// FindByUserCode returns ErrNotFound when no record has the canonical user code
	FindByUserCode(ctx context.Context, userCode string) (*Record, error)

	// CompareAndSetStatus atomically moves the record from upd.Expected to upd.Next.
	// It returns false when the current status differs or the ValidAt guard fails.
	// A missing record also returns false.
	CompareAndSetStatus(ctx context.Context, key Key, upd StatusUpdate) (bool, error)

	// UpdateLastPollAt records a poll time. It is unconditional and never creates a record.
	UpdateLastPollAt(ctx context.Context, deviceCode string, at time.Time) error

	// SetCallbackURI records the callback URI for a client, last write wins
	SetCallbackURI(ctx context.Context, clientID, uri string) error

	// CallbackURI returns the client's callback URI or "" if none was set
	CallbackURI(ctx context.Context, clientID string) (string, error)

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}
