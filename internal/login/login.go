// Package login resolves credential attempts against an ordered list of
// account tiers: environment-configured primary credentials, breakglass
// fallback, a development-only allow-any tier, database-backed accounts
// with TOTP second factor, and a role-scoped emergency tier. Tiers are
// evaluated in fixed priority order; the first tier that claims an
// attempt decides it.
package login

import (
	"context"
	"errors"
	"strings"
	"time"

	"fieldstack.io/internal/audit"
	"fieldstack.io/internal/obs"
)

// Account classes.
const (
	ClassProvider   = "provider"
	ClassDeveloper  = "developer"
	ClassTenant     = "tenant"
	ClassAccountant = "accountant"
	ClassVendor     = "vendor"
)

// Outcome is the coarse classification exposed to callers. Nothing finer
// leaks: "user not found" and "wrong password" are both OutcomeInvalid.
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeInvalid              Outcome = "invalid"
	OutcomeAccountLocked        Outcome = "account_locked"
	OutcomeAccountInactive      Outcome = "account_inactive"
	OutcomeSecondFactorRequired Outcome = "requires_second_factor"
	OutcomeUnsupported          Outcome = "unsupported"
)

// Credentials is one login attempt.
type Credentials struct {
	Identity     string
	Password     string
	TOTPCode     string
	RecoveryCode string
}

// Result is the decision for one attempt. OutcomeSecondFactorRequired is
// a re-prompt signal, not a hard failure. UpdatedBackupCodes carries the
// reduced hash set after a recovery-code login; the authenticator has
// already persisted it, the copy is informational.
type Result struct {
	Outcome            Outcome
	Class              string
	Identity           string
	Tier               string
	Breakglass         bool
	UpdatedBackupCodes []string
}

type tier interface {
	name() string
	// attempt returns (result, true) when the tier claims the attempt.
	// An unclaimed attempt falls through to the next tier.
	attempt(ctx context.Context, creds Credentials) (Result, bool)
}

// EnvCredential is one environment-configured identity/secret pair.
type EnvCredential struct {
	Identity string
	Secret   string
	Class    string
}

// EmergencyCredential grants a class from a pre-distributed bcrypt hash
// when the normal tiers are known to be degraded.
type EmergencyCredential struct {
	Identity     string
	Class        string
	PasswordHash string
}

// Config wires the tier chain.
type Config struct {
	Production bool
	// Primary and Breakglass hold provider/developer environment
	// accounts; breakglass successes are audited at elevated severity.
	Primary    []EnvCredential
	Breakglass []EnvCredential
	// AllowAny accepts any credentials as a developer. Refused outright
	// in production.
	AllowAny  bool
	Emergency []EmergencyCredential
}

// Authenticator evaluates the tier chain.
type Authenticator struct {
	tiers    []tier
	accounts AccountStore
	now      func() time.Time
}

type Option func(*Authenticator)

// WithClock overrides the time source. Test use only.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds the fixed-order tier chain. The allow-any tier
// is rejected, not silently dropped, when the deployment is production:
// a production config that asks for it is a misconfiguration.
func NewAuthenticator(cfg Config, accounts AccountStore, opts ...Option) (*Authenticator, error) {
	if cfg.Production && cfg.AllowAny {
		return nil, errors.New("login: allow-any tier cannot be enabled in production")
	}
	a := &Authenticator{accounts: accounts, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	a.tiers = append(a.tiers, &envTier{label: "env_primary", pairs: cfg.Primary})
	a.tiers = append(a.tiers, &envTier{label: "breakglass", pairs: cfg.Breakglass, breakglass: true})
	if cfg.AllowAny {
		a.tiers = append(a.tiers, allowAnyTier{})
	}
	if accounts != nil {
		a.tiers = append(a.tiers, &databaseTier{accounts: accounts, now: a.now})
	}
	if len(cfg.Emergency) > 0 {
		a.tiers = append(a.tiers, &emergencyTier{pairs: cfg.Emergency})
	}
	return a, nil
}

// Authenticate runs the attempt through the tier chain. Breakglass and
// emergency successes are surfaced on the audit channel; a consumed
// recovery code is persisted before the result is returned.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (Result, error) {
	creds.Identity = strings.TrimSpace(creds.Identity)
	if creds.Identity == "" || creds.Password == "" {
		return Result{Outcome: OutcomeInvalid}, nil
	}

	for _, t := range a.tiers {
		result, claimed := t.attempt(ctx, creds)
		if !claimed {
			continue
		}
		result.Tier = t.name()
		if result.Outcome == OutcomeSuccess {
			if result.UpdatedBackupCodes != nil {
				if err := a.accounts.ReplaceBackupCodes(ctx, result.Identity, result.UpdatedBackupCodes); err != nil {
					return Result{Outcome: OutcomeInvalid}, err
				}
			}
			if result.Breakglass {
				obs.CountBreakglassLogin()
				_ = audit.LogAlert(ctx, "login.breakglass", map[string]any{
					"identity": result.Identity,
					"class":    result.Class,
					"tier":     result.Tier,
				})
			} else {
				_ = audit.LogEvent(ctx, "login.success", map[string]any{
					"identity": result.Identity,
					"class":    result.Class,
					"tier":     result.Tier,
				})
			}
		}
		return result, nil
	}
	return Result{Outcome: OutcomeInvalid}, nil
}
