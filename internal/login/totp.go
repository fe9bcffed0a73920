package login

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// verifyTOTP validates a 6-digit code against the stored base32 secret
// using the standard 30-second step with one step of tolerance either
// side.
func verifyTOTP(secret, code string, at time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// NewTOTPSecret generates a base32 secret for enrollment.
func NewTOTPSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// HashBackupCode returns the stored form of a recovery code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// consumeBackupCode checks the candidate against the stored hashes and,
// on a match, returns the set with that code removed. Every stored hash
// is compared so the scan time does not depend on the match position.
func consumeBackupCode(hashes []string, candidate string) ([]string, bool) {
	digest := HashBackupCode(candidate)
	matched := -1
	for i, h := range hashes {
		if len(h) == len(digest) && subtle.ConstantTimeCompare([]byte(h), []byte(digest)) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return nil, false
	}
	remaining := make([]string, 0, len(hashes)-1)
	remaining = append(remaining, hashes[:matched]...)
	remaining = append(remaining, hashes[matched+1:]...)
	return remaining, true
}
