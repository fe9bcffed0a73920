// Package apikey manages service API keys: identifiers mapped to hashed
// secrets, optional organization constraints, and granted scopes.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"fieldstack.io/internal/ids"
)

var (
	ErrNotFound     = errors.New("apikey: not found")
	ErrInvalidInput = errors.New("apikey: invalid input")
)

// Key is one registered API key. The plaintext secret is never stored;
// only its SHA-256 digest survives creation.
type Key struct {
	ID         string
	SecretHash []byte
	// OrgID constrains the key to one organization. Empty means the key
	// is valid for every organization.
	OrgID     string
	Scopes    map[string]struct{}
	IsActive  bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// HasScope reports whether the key was granted the scope.
func (k *Key) HasScope(scope string) bool {
	_, ok := k.Scopes[scope]
	return ok
}

// ValidForOrg reports whether the key may act for the organization.
func (k *Key) ValidForOrg(orgID string) bool {
	if k.OrgID == "" {
		return true
	}
	return k.OrgID == orgID
}

// Store persists key records. Writes are rare administrative actions.
type Store interface {
	Get(ctx context.Context, keyID string) (*Key, error)
	Put(ctx context.Context, key *Key) error
	MarkRevoked(ctx context.Context, keyID string, at time.Time) (bool, error)
}

// Registry composes key lookup, secret verification, and administration.
type Registry struct {
	store Store
	now   func() time.Time
}

type RegistryOption func(*Registry)

// WithClock overrides the time source. Test use only.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(store Store, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, errors.New("apikey: store is required")
	}
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HashSecret returns the stored digest form of a plaintext secret.
func HashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Get loads a key by id. Returns ErrNotFound for unknown ids.
func (r *Registry) Get(ctx context.Context, keyID string) (*Key, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, ErrInvalidInput
	}
	return r.store.Get(ctx, keyID)
}

// VerifySecret hashes the candidate and compares it to the stored digest
// in constant time. A revoked key never verifies, regardless of the
// secret's correctness.
func (r *Registry) VerifySecret(key *Key, candidate string) bool {
	if key == nil || !key.IsActive {
		return false
	}
	digest := HashSecret(candidate)
	if len(digest) != len(key.SecretHash) {
		return false
	}
	return subtle.ConstantTimeCompare(digest, key.SecretHash) == 1
}

// Create registers a new key. When keyID is empty a ULID is generated;
// when secret is empty a random 32-byte secret is generated. The
// plaintext secret is returned exactly once and never persisted.
func (r *Registry) Create(ctx context.Context, keyID, secret, orgID string, scopes []string) (*Key, string, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = ids.New()
	}
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, "", err
		}
		secret = base64.RawURLEncoding.EncodeToString(buf)
	}
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		scopeSet[s] = struct{}{}
	}
	if len(scopeSet) == 0 {
		return nil, "", errors.New("apikey: at least one scope is required")
	}
	key := &Key{
		ID:         keyID,
		SecretHash: HashSecret(secret),
		OrgID:      strings.TrimSpace(orgID),
		Scopes:     scopeSet,
		IsActive:   true,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.Put(ctx, key); err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

// Revoke deactivates a key. Terminal: there is no reactivation path.
// Returns false when the key does not exist or is already revoked.
func (r *Registry) Revoke(ctx context.Context, keyID string) (bool, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return false, ErrInvalidInput
	}
	return r.store.MarkRevoked(ctx, keyID, r.now().UTC())
}
