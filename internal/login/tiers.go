package login

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

// envTier matches environment-configured provider/developer pairs:
// case-insensitive identity, exact secret.
type envTier struct {
	label      string
	pairs      []EnvCredential
	breakglass bool
}

func (t *envTier) name() string { return t.label }

func (t *envTier) attempt(_ context.Context, creds Credentials) (Result, bool) {
	for _, pair := range t.pairs {
		if !strings.EqualFold(pair.Identity, creds.Identity) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(pair.Secret), []byte(creds.Password)) != 1 {
			continue
		}
		return Result{
			Outcome:    OutcomeSuccess,
			Class:      pair.Class,
			Identity:   pair.Identity,
			Breakglass: t.breakglass,
		}, true
	}
	return Result{}, false
}

// allowAnyTier accepts any credentials as a developer. Present only in
// non-production configuration; the constructor refuses it otherwise.
type allowAnyTier struct{}

func (allowAnyTier) name() string { return "dev_allow_any" }

func (allowAnyTier) attempt(_ context.Context, creds Credentials) (Result, bool) {
	return Result{
		Outcome:  OutcomeSuccess,
		Class:    ClassDeveloper,
		Identity: creds.Identity,
	}, true
}

// databaseTier resolves tenant/accountant/vendor accounts. A missing
// account is not claimed, so the emergency tier below can still run; a
// dummy password verification keeps the timing indistinguishable from a
// wrong-password rejection.
type databaseTier struct {
	accounts AccountStore
	now      func() time.Time
}

func (t *databaseTier) name() string { return "database" }

func (t *databaseTier) attempt(ctx context.Context, creds Credentials) (Result, bool) {
	account, err := t.accounts.FindByIdentity(ctx, strings.ToLower(creds.Identity))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			verifyPasswordDummy(creds.Password)
			return Result{}, false
		}
		return Result{Outcome: OutcomeInvalid}, true
	}

	now := t.now()
	if account.IsLocked && (account.LockedUntil == nil || now.Before(*account.LockedUntil)) {
		return Result{Outcome: OutcomeAccountLocked}, true
	}
	if !account.IsActive {
		return Result{Outcome: OutcomeAccountInactive}, true
	}
	if err := verifyPassword(account.PasswordHash, creds.Password); err != nil {
		return Result{Outcome: OutcomeInvalid}, true
	}

	result := Result{
		Outcome:  OutcomeSuccess,
		Class:    account.Class,
		Identity: account.Identity,
	}
	if !account.TOTPEnabled {
		return result, true
	}

	// Second-factor checks only run after the password has verified.
	switch {
	case creds.TOTPCode != "":
		if !verifyTOTP(account.TOTPSecret, creds.TOTPCode, now) {
			return Result{Outcome: OutcomeInvalid}, true
		}
		return result, true
	case creds.RecoveryCode != "":
		remaining, ok := consumeBackupCode(account.BackupCodeHashes, creds.RecoveryCode)
		if !ok {
			return Result{Outcome: OutcomeInvalid}, true
		}
		result.UpdatedBackupCodes = remaining
		return result, true
	default:
		return Result{Outcome: OutcomeSecondFactorRequired}, true
	}
}

// emergencyTier is the last resort for provider/developer access when
// the tiers above are degraded. The password is checked against a
// pre-distributed bcrypt hash.
type emergencyTier struct {
	pairs []EmergencyCredential
}

func (t *emergencyTier) name() string { return "emergency" }

func (t *emergencyTier) attempt(_ context.Context, creds Credentials) (Result, bool) {
	for _, pair := range t.pairs {
		if !strings.EqualFold(pair.Identity, creds.Identity) {
			continue
		}
		if err := verifyPassword(pair.PasswordHash, creds.Password); err != nil {
			continue
		}
		return Result{
			Outcome:    OutcomeSuccess,
			Class:      pair.Class,
			Identity:   pair.Identity,
			Breakglass: true,
		}, true
	}
	return Result{}, false
}
