// Package ticket issues and verifies the short-lived, audience-bound,
// single-use tokens that hand an authenticated session between
// independently deployed applications. A ticket is a one-time handoff
// credential, not a bearer session token: the first successful
// verification consumes its nonce, so presenting the identical ticket
// again fails even inside the expiry window.
package ticket

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fieldstack.io/internal/nonce"
)

const (
	issuerName = "fieldstack"

	// DefaultExpiry is far shorter than a session: the ticket only has
	// to survive one cross-application redirect.
	DefaultExpiry = 120 * time.Second
)

// Error categories are distinguishable internally for logging even when
// the end user sees a uniform 401.
var (
	ErrMalformed    = errors.New("ticket: malformed token")
	ErrBadSignature = errors.New("ticket: signature mismatch")
	ErrExpired      = errors.New("ticket: expired")
	ErrAudience     = errors.New("ticket: audience mismatch")
	ErrReplayed     = errors.New("ticket: already used")
)

// Payload is the verified content of a ticket.
type Payload struct {
	Subject  string
	Role     string
	Audience string
	IssuedAt time.Time
	Expires  time.Time
	Nonce    string
}

type claims struct {
	Role  string `json:"role"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tickets with a shared HS256 secret.
type Issuer struct {
	secret []byte
	nonces nonce.Store
	now    func() time.Time
}

type Option func(*Issuer)

// WithClock overrides the time source. Test use only.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer creates an issuer/verifier. The nonce store tracks consumed
// ticket nonces and must be shared by every verifying replica; it is a
// separate store from the signed-request nonce window.
func NewIssuer(secret []byte, nonces nonce.Store, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("ticket: secret is required")
	}
	if nonces == nil {
		return nil, errors.New("ticket: nonce store is required")
	}
	i := &Issuer{secret: secret, nonces: nonces, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a ticket for one cross-application handoff. Every field
// used in authorization decisions (audience, expiry, nonce) is covered
// by the signature, so no field can change after issuance undetected.
func (i *Issuer) Issue(identity, role, audience string, expiry time.Duration) (string, error) {
	identity = strings.TrimSpace(identity)
	audience = strings.TrimSpace(audience)
	if identity == "" || audience == "" {
		return "", errors.New("ticket: identity and audience are required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	now := i.now().UTC()
	c := claims{
		Role:  role,
		Nonce: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   identity,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(i.secret)
}

// Verify checks signature, expiry, and audience, then consumes the
// ticket's nonce. The check order keeps the nonce unburned for tickets
// that fail any other check.
func (i *Issuer) Verify(ctx context.Context, token, expectedAudience string) (*Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadSignature
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(issuerName))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrMalformed
		}
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if c.ExpiresAt == nil || c.IssuedAt == nil || c.Nonce == "" {
		return nil, ErrMalformed
	}
	if len(c.Audience) != 1 || c.Audience[0] != expectedAudience {
		return nil, ErrAudience
	}

	ttl := c.ExpiresAt.Time.Sub(i.now())
	if ttl <= 0 {
		return nil, ErrExpired
	}
	accepted, err := i.nonces.CheckAndRecord(ctx, "ticket:"+expectedAudience, c.Nonce, ttl)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, ErrReplayed
	}

	return &Payload{
		Subject:  c.Subject,
		Role:     c.Role,
		Audience: c.Audience[0],
		IssuedAt: c.IssuedAt.Time,
		Expires:  c.ExpiresAt.Time,
		Nonce:    c.Nonce,
	}, nil
}
