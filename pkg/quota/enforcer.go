// Package quota enforces the per-identity usage ceiling on quota-consuming
// operations.
package quota

import (
	"context"
	"errors"
	"log"

	"github.com/alpacahack/quotaguard/pkg/models"
	"github.com/alpacahack/quotaguard/pkg/storage"
)

// Usage reports the quota state after a consumption.
type Usage struct {
	UsageCount int
	UsageLimit int
	CanUseMore bool
}

// Enforcer applies usage increments against the identity store.
// Safe for concurrent use; all state lives in the store.
type Enforcer struct {
	store storage.Store
	limit int
}

// New creates an Enforcer. limit is the ceiling applied when the enforcer
// has to create a missing quota identity lazily; pass 0 for the default.
func New(store storage.Store, limit int) *Enforcer {
	if limit <= 0 {
		limit = models.DefaultMaxGenerations
	}
	return &Enforcer{store: store, limit: limit}
}

// ConsumeOne increments the quota identity's counter and reports the new
// state. It deliberately does not re-check the limit first: callers gate the
// user-facing action on a prior resolution's CanUseMore, and concurrent
// requests racing past a stale check may overshoot the ceiling by at most
// the number of in-flight requests. That overshoot is tolerated; the
// unconditional form is what makes N concurrent calls land at exactly
// count+N with no lost updates.
//
// The linked session identities are incremented separately after the root,
// as an independent statement. If that fan-out fails the root is already
// ahead, which the next resolution heals by re-reading the root as ground
// truth; the failure is logged, not surfaced.
//
// Returns storage.ErrNotFound when the id matches no record and lazy
// creation fails too.
func (e *Enforcer) ConsumeOne(ctx context.Context, quotaID string) (*Usage, error) {
	updated, err := e.store.IncrementUsage(ctx, quotaID)
	if errors.Is(err, storage.ErrNotFound) {
		updated, err = e.incrementAfterCreate(ctx, quotaID)
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.IncrementUsageForAllLinkedTo(ctx, quotaID); err != nil {
		log.Printf("quota: linked fan-out for %s failed: %v", quotaID, err)
	}

	return &Usage{
		UsageCount: updated.GenerationsUsed,
		UsageLimit: updated.MaxGenerations,
		CanUseMore: updated.CanGenerate(),
	}, nil
}

// incrementAfterCreate recreates a missing quota identity as its own root,
// then retries the increment once. A lost creation race is fine: the retry
// hits whichever record won.
func (e *Enforcer) incrementAfterCreate(ctx context.Context, quotaID string) (*models.Identity, error) {
	err := e.store.Create(ctx, &models.Identity{
		ID:             quotaID,
		MaxGenerations: e.limit,
	})
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, err
	}
	return e.store.IncrementUsage(ctx, quotaID)
}
