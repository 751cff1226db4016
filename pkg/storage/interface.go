package storage

import (
	"context"
	"errors"

	"github.com/alpacahack/quotaguard/pkg/models"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrAlreadyExists signals a duplicate-id insert. Concurrent creation
	// races are expected; callers recover by re-reading the record.
	ErrAlreadyExists = errors.New("identity already exists")

	// ErrNotFound signals that no record matches the requested id.
	ErrNotFound = errors.New("identity not found")

	// ErrUnavailable signals that the backing store is unreachable or not
	// configured. Surfaced to callers as a single terminal condition.
	ErrUnavailable = errors.New("identity store unavailable")
)

// Store persists anonymous identities and their usage counters.
// Implementations can use any backend: in-memory, PostgreSQL, etc.
//
// Concurrency contract:
//   - Increment operations must be lost-update-free under concurrent callers
//     for the same id. Implementations delegate to an atomic increment
//     expression evaluated by the backend, never an application-side
//     read-modify-write.
//   - No operation spans a client-side transaction; each call is one
//     statement (or one bulk statement) against the backend.
type Store interface {
	// Create inserts a new identity record. Returns ErrAlreadyExists when a
	// record with the same id is already present, distinguishable from every
	// other failure because creation races are tolerated, not fatal.
	Create(ctx context.Context, identity *models.Identity) error

	// FindByID retrieves one record, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*models.Identity, error)

	// IncrementUsage atomically adds 1 to the record's usage counter and
	// refreshes its timestamps, returning the updated record.
	IncrementUsage(ctx context.Context, id string) (*models.Identity, error)

	// IncrementUsageForAllLinkedTo applies the same atomic increment to every
	// record linked to the given fingerprint root. Zero linked rows is a
	// successful no-op.
	IncrementUsageForAllLinkedTo(ctx context.Context, fingerprintID string) error

	// Ping reports whether the backend is reachable. Resolution checks this
	// as a precondition before touching any branch logic.
	Ping(ctx context.Context) error
}
