// Package resolver decides which identity record an incoming request is
// billed against, performing the cookie → fingerprint fallback chain and
// lazy record creation.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpacahack/quotaguard/pkg/fingerprint"
	"github.com/alpacahack/quotaguard/pkg/geoip"
	"github.com/alpacahack/quotaguard/pkg/models"
	"github.com/alpacahack/quotaguard/pkg/storage"
)

// ErrUnresolvable signals that a referenced identity was absent and could
// not be created either. This indicates a store malfunction, not user error.
var ErrUnresolvable = errors.New("identity could not be resolved")

// Resolution is the outcome of resolving one request to an identity pair.
type Resolution struct {
	// QuotaID is the identity holding the authoritative counters.
	QuotaID string
	// SessionID is the identity the browser presents (or just received).
	SessionID string

	UsageCount int
	UsageLimit int
	CanUseMore bool

	// MintedCookie is true when SessionID was created during this resolution
	// and must be handed back to the browser as a cookie.
	MintedCookie bool
}

// Resolver owns the cookie → fingerprint resolution chain.
//
// All coordination lives in the store's atomic primitives: the resolver
// itself is stateless, holds no locks, and re-derives identity from request
// inputs on every call rather than trusting cached application state.
type Resolver struct {
	store  storage.Store
	secret string
	limit  int
	geo    *geoip.Service
}

// Option configures optional resolver collaborators.
type Option func(*Resolver)

// WithGeoIP enables country stamping on newly created fingerprint roots.
func WithGeoIP(svc *geoip.Service) Option {
	return func(r *Resolver) { r.geo = svc }
}

// WithUsageLimit overrides the default quota ceiling for new identities.
func WithUsageLimit(limit int) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// New creates a Resolver. The secret is the server-held fingerprint key;
// rotating it invalidates every previously derived fingerprint identity.
func New(store storage.Store, secret string, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		secret: secret,
		limit:  models.DefaultMaxGenerations,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps a session cookie (empty when absent) plus request metadata to
// an identity pair and its quota state.
//
// Four branches, evaluated in order:
//  1. cookie present, record found       — follow the link to the quota root
//  2. cookie present, record missing     — recreate the session record, then as 1
//  3. no cookie, fingerprint root exists — mint a linked session seeded with
//     the root's current counters, so losing cookies never refreshes a quota
//  4. no cookie, no fingerprint root     — create root and linked session
//
// Store availability is a precondition checked before any branch runs.
func (r *Resolver) Resolve(ctx context.Context, sessionCookie string, meta fingerprint.Metadata) (*Resolution, error) {
	if err := r.store.Ping(ctx); err != nil {
		return nil, err
	}

	if sessionCookie != "" {
		return r.resolveFromCookie(ctx, sessionCookie)
	}
	return r.resolveFromFingerprint(ctx, meta)
}

func (r *Resolver) resolveFromCookie(ctx context.Context, sessionID string) (*Resolution, error) {
	record, err := r.store.FindByID(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		// Branch 2: cookie references a missing record. Recreate it without
		// a link; tolerate losing the creation race to a concurrent request.
		record, err = r.createAndReread(ctx, &models.Identity{
			ID:             sessionID,
			MaxGenerations: r.limit,
		})
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s absent after create", ErrUnresolvable, sessionID)
		}
	}
	if err != nil {
		return nil, err
	}

	// Branch 1: a session with no link is its own quota root.
	quota := record
	if !record.IsRoot() {
		quota, err = r.quotaRoot(ctx, record)
		if err != nil {
			return nil, err
		}
	}

	return &Resolution{
		QuotaID:    quota.ID,
		SessionID:  sessionID,
		UsageCount: quota.GenerationsUsed,
		UsageLimit: quota.MaxGenerations,
		CanUseMore: quota.CanGenerate(),
	}, nil
}

func (r *Resolver) resolveFromFingerprint(ctx context.Context, meta fingerprint.Metadata) (*Resolution, error) {
	fingerprintID := fingerprint.Derive(r.secret, meta)

	root, err := r.store.FindByID(ctx, fingerprintID)
	if errors.Is(err, storage.ErrNotFound) {
		// Branch 4: first sighting of this fingerprint.
		root, err = r.createRoot(ctx, fingerprintID, meta)
	}
	if err != nil {
		return nil, err
	}

	// Branch 3 (and the tail of branch 4): mint a linked session identity
	// seeded with the root's current counters, not zero. A returning visitor
	// who cleared cookies must not receive a fresh quota.
	sessionID := fingerprint.NewSessionID()
	session := &models.Identity{
		ID:                  sessionID,
		LinkedFingerprintID: &root.ID,
		GenerationsUsed:     root.GenerationsUsed,
		MaxGenerations:      root.MaxGenerations,
	}
	if err := r.store.Create(ctx, session); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, err
	}

	return &Resolution{
		QuotaID:      root.ID,
		SessionID:    sessionID,
		UsageCount:   root.GenerationsUsed,
		UsageLimit:   root.MaxGenerations,
		CanUseMore:   root.CanGenerate(),
		MintedCookie: true,
	}, nil
}

// createRoot inserts a fingerprint root, stamping audit fields, and re-reads
// it so a lost creation race still yields the winner's current counters.
func (r *Resolver) createRoot(ctx context.Context, fingerprintID string, meta fingerprint.Metadata) (*models.Identity, error) {
	root := &models.Identity{
		ID:             fingerprintID,
		MaxGenerations: r.limit,
	}
	components := meta.Components()
	root.FingerprintData = &components
	if cc := r.geo.CountryCode(meta.ClientIP); cc != "" {
		root.CountryCode = &cc
	}

	created, err := r.createAndReread(ctx, root)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: fingerprint %s absent after create", ErrUnresolvable, fingerprintID)
	}
	return created, err
}

// quotaRoot follows a session identity's link. A dangling link is healed by
// recreating the root seeded from the session's own counters.
func (r *Resolver) quotaRoot(ctx context.Context, session *models.Identity) (*models.Identity, error) {
	rootID := session.QuotaRootID()
	root, err := r.store.FindByID(ctx, rootID)
	if errors.Is(err, storage.ErrNotFound) {
		root, err = r.createAndReread(ctx, &models.Identity{
			ID:              rootID,
			GenerationsUsed: session.GenerationsUsed,
			MaxGenerations:  session.MaxGenerations,
		})
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: quota root %s absent after create", ErrUnresolvable, rootID)
		}
	}
	return root, err
}

// createAndReread inserts a record and reads it back, treating a duplicate
// insert as success. The re-read returns whichever record won the race.
func (r *Resolver) createAndReread(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	if err := r.store.Create(ctx, identity); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, err
	}
	return r.store.FindByID(ctx, identity.ID)
}
