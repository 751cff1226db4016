package models

import "time"

// DefaultMaxGenerations is the quota ceiling applied to newly created
// identities unless the deployment overrides it.
const DefaultMaxGenerations = 2

// Identity represents one anonymous visitor-identity unit.
//
// Two disjoint id namespaces share this table, distinguished only by how the
// id was generated, never by a stored type tag:
//   - "user_<hash>"  — a deterministic fingerprint identity (quota root)
//   - "anon_<uuid>"  — a random per-browser session identity
//
// A session identity may carry LinkedFingerprintID pointing at the root that
// owns its true quota; a root never links to anything. The link graph is a
// tree of depth exactly 1.
//
// The counters on a root are authoritative. Counters on linked session
// identities are a read-through projection kept in sync best-effort on each
// increment; they may lag behind the root after a partial failure, and the
// next resolution heals them by reading from the root again.
type Identity struct {
	ID string `gorm:"primaryKey;size:64" json:"id"`

	// LinkedFingerprintID is set only on session identities, and only when
	// the session was minted against a known fingerprint root.
	LinkedFingerprintID *string `gorm:"size:64;index" json:"linked_fingerprint_id,omitempty"`

	// FingerprintData optionally holds the raw joined fingerprint components
	// on a root identity, for abuse triage. Never used for resolution.
	FingerprintData *string `gorm:"size:512" json:"-"`

	GenerationsUsed int `gorm:"not null;default:0" json:"generations_used"`
	MaxGenerations  int `gorm:"not null;default:2" json:"max_generations"`

	// CountryCode is stamped from GeoIP on root creation when a City
	// database is configured. Audit only.
	CountryCode *string `gorm:"size:2" json:"-"`

	LastGenerationAt *time.Time `json:"last_generation_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the table name aligned with the deployed schema.
func (Identity) TableName() string { return "anonymous_identities" }

// IsRoot reports whether this record is its own quota root.
// A session identity with no link predates linking and acts as its own root.
func (i *Identity) IsRoot() bool {
	return i.LinkedFingerprintID == nil
}

// QuotaRootID returns the id holding the authoritative counters for this
// identity: the linked root if one exists, otherwise the identity itself.
func (i *Identity) QuotaRootID() string {
	if i.LinkedFingerprintID != nil {
		return *i.LinkedFingerprintID
	}
	return i.ID
}

// CanGenerate is always derived from the counters, never stored.
func (i *Identity) CanGenerate() bool {
	return i.GenerationsUsed < i.MaxGenerations
}
