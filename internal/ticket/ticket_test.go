package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldstack.io/internal/nonce"
)

func newTestIssuer(t *testing.T, secret string, now *time.Time) *Issuer {
	t.Helper()
	store := nonce.NewMemoryStore(0).WithClock(func() time.Time { return *now })
	issuer, err := NewIssuer([]byte(secret), store, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func TestIssueThenVerify(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, "shared", &now)
	ctx := context.Background()

	token, err := issuer.Issue("tenant-7", "provider_admin", "billing-app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	payload, err := issuer.Verify(ctx, token, "billing-app")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if payload.Subject != "tenant-7" || payload.Role != "provider_admin" || payload.Audience != "billing-app" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if got := payload.Expires.Sub(payload.IssuedAt); got != DefaultExpiry {
		t.Fatalf("unexpected lifetime: %v", got)
	}
}

func TestSecondPresentationIsReplay(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, "shared", &now)
	ctx := context.Background()

	token, err := issuer.Issue("tenant-7", "developer", "billing-app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(ctx, token, "billing-app"); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	// Still inside the expiry window.
	now = now.Add(30 * time.Second)
	if _, err := issuer.Verify(ctx, token, "billing-app"); !errors.Is(err, ErrReplayed) {
		t.Fatalf("expected ErrReplayed, got %v", err)
	}
}

func TestVerifyFailureCategories(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, "shared", &now)
	ctx := context.Background()

	token, err := issuer.Issue("tenant-7", "developer", "billing-app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := newTestIssuer(t, "different-secret", &now)
	if _, err := other.Verify(ctx, token, "billing-app"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong secret: expected ErrBadSignature, got %v", err)
	}

	if _, err := issuer.Verify(ctx, token, "other-app"); !errors.Is(err, ErrAudience) {
		t.Fatalf("wrong audience: expected ErrAudience, got %v", err)
	}

	now = now.Add(DefaultExpiry + time.Second)
	if _, err := issuer.Verify(ctx, token, "billing-app"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired: expected ErrExpired, got %v", err)
	}

	if _, err := issuer.Verify(ctx, "not.a.ticket", "billing-app"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("garbage: expected ErrMalformed, got %v", err)
	}
}

func TestAudienceMismatchDoesNotBurnNonce(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, "shared", &now)
	ctx := context.Background()

	token, err := issuer.Issue("tenant-7", "developer", "billing-app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(ctx, token, "other-app"); !errors.Is(err, ErrAudience) {
		t.Fatalf("expected ErrAudience, got %v", err)
	}
	// The failed attempt must not consume the ticket.
	if _, err := issuer.Verify(ctx, token, "billing-app"); err != nil {
		t.Fatalf("ticket unusable after audience-mismatch attempt: %v", err)
	}
}
