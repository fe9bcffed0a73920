package signing

import (
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	canonical := Canonical("POST", "/x?a=1", "k1", "1700000000000", "n1", []byte(`{"orgId":"o1"}`))

	sig := Sign(secret, canonical)
	if sig == "" {
		t.Fatal("expected signature")
	}
	if !Verify(secret, canonical, sig) {
		t.Fatal("round trip failed")
	}
	if Verify([]byte("other"), canonical, sig) {
		t.Fatal("wrong secret accepted")
	}
}

func TestAnyFieldChangeInvalidatesSignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"orgId":"o1"}`)
	sig := Sign(secret, Canonical("POST", "/x?a=1", "k1", "1700000000000", "n1", body))

	variants := []string{
		Canonical("GET", "/x?a=1", "k1", "1700000000000", "n1", body),
		Canonical("POST", "/x?a=2", "k1", "1700000000000", "n1", body),
		Canonical("POST", "/x?a=1", "k2", "1700000000000", "n1", body),
		Canonical("POST", "/x?a=1", "k1", "1700000000001", "n1", body),
		Canonical("POST", "/x?a=1", "k1", "1700000000000", "n2", body),
		Canonical("POST", "/x?a=1", "k1", "1700000000000", "n1", []byte(`{"orgId":"o2"}`)),
	}
	for i, canonical := range variants {
		if Verify(secret, canonical, sig) {
			t.Fatalf("variant %d accepted a stale signature", i)
		}
	}
}

func TestCanonicalShape(t *testing.T) {
	canonical := Canonical("GET", "/y", "k1", "ts", "n1", nil)
	parts := strings.Split(canonical, "\n")
	if len(parts) != 6 {
		t.Fatalf("expected 6 canonical fields, got %d", len(parts))
	}
	// SHA-256 of the empty body.
	if parts[5] != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty-body hash: %s", parts[5])
	}
}

func TestParseTimestamp(t *testing.T) {
	if _, err := ParseTimestamp("2026-08-28T10:00:00Z"); err != nil {
		t.Fatalf("rfc3339 rejected: %v", err)
	}
	ts, err := ParseTimestamp("1700000000000")
	if err != nil {
		t.Fatalf("epoch millis rejected: %v", err)
	}
	if ts.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected millis: %d", ts.UnixMilli())
	}
	if _, err := ParseTimestamp("not-a-time"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestFreshEnoughBoundaryInclusive(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		drift time.Duration
		want  bool
	}{
		{0, true},
		{ClockSkewTolerance, true},
		{-ClockSkewTolerance, true},
		{ClockSkewTolerance + time.Second, false},
		{-(ClockSkewTolerance + time.Second), false},
	}
	for _, tc := range cases {
		if got := FreshEnough(now.Add(tc.drift), now); got != tc.want {
			t.Fatalf("drift %v: got %v, want %v", tc.drift, got, tc.want)
		}
	}
}
