// Package signing implements the canonical request string and the
// HMAC-SHA256 signature scheme used for service-to-service requests.
// The canonical string is the security boundary: any discrepancy in
// method, path, query, key id, timestamp, nonce, or body between signer
// and verifier must surface as a signature mismatch.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ClockSkewTolerance bounds how far a request timestamp may drift from
// the verifier's clock in either direction.
const ClockSkewTolerance = 5 * time.Minute

var ErrBadTimestamp = errors.New("signing: unparseable timestamp")

// Canonical builds the newline-joined string covered by the signature:
// method, path with query, key id, timestamp, nonce, and the hex SHA-256
// digest of the body. A bodyless request hashes the empty string.
func Canonical(method, pathWithQuery, keyID, timestamp, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{
		method,
		pathWithQuery,
		keyID,
		timestamp,
		nonce,
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// Sign computes base64(HMAC-SHA256(secret, canonical)).
func Sign(secret []byte, canonical string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature and compares it to the
// provided one in constant time. The comparison runs over every byte
// even after a mismatch is found.
func Verify(secret []byte, canonical, signature string) bool {
	expected := Sign(secret, canonical)
	if len(expected) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ParseTimestamp accepts RFC 3339 or epoch milliseconds.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrBadTimestamp
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrBadTimestamp
	}
	return time.UnixMilli(millis).UTC(), nil
}

// FreshEnough reports whether ts is within the skew tolerance of now.
// The boundary is inclusive: a timestamp exactly ClockSkewTolerance away
// is accepted.
func FreshEnough(ts, now time.Time) bool {
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	return drift <= ClockSkewTolerance
}
