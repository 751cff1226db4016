package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	// RootPrefix tags deterministic fingerprint identities.
	RootPrefix = "user_"
	// SessionPrefix tags random per-browser session identities.
	SessionPrefix = "anon_"

	// unknownToken substitutes for any absent input so derivation never fails.
	unknownToken = "unknown"

	// digestLen is the number of hex characters kept from the SHA-256 digest.
	digestLen = 16
)

// Metadata carries the request signals a fingerprint is derived from.
// Empty fields are tolerated; each defaults to "unknown" during derivation.
type Metadata struct {
	ClientIP       string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// Components returns the joined raw request inputs, delimiter included,
// exactly as they are fed to the hash after the secret. Stored on root
// identities for abuse triage; the secret itself is never persisted.
func (m Metadata) Components() string {
	parts := []string{m.ClientIP, m.UserAgent, m.AcceptLanguage, m.AcceptEncoding}
	for i, p := range parts {
		if p == "" {
			parts[i] = unknownToken
		}
	}
	return strings.Join(parts, "|")
}

// Derive turns connection metadata into a stable low-entropy pseudo-identity.
//
// The derivation is deterministic: identical inputs always yield the same id,
// and rotating the server secret invalidates every previously derived id at
// once. Collisions across visitors behind one NAT with identical browser
// setups are accepted; this is coarse identification, not authentication.
func Derive(secret string, meta Metadata) string {
	if secret == "" {
		secret = unknownToken
	}
	sum := sha256.Sum256([]byte(secret + "|" + meta.Components()))
	return RootPrefix + hex.EncodeToString(sum[:])[:digestLen]
}

// NewSessionID mints a random session identity id. Never collides with a
// derived id: the namespaces are disjoint by prefix.
func NewSessionID() string {
	return SessionPrefix + uuid.NewString()
}

// IsSessionID reports whether id belongs to the random session namespace.
func IsSessionID(id string) bool {
	return strings.HasPrefix(id, SessionPrefix)
}
