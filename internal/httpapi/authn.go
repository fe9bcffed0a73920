package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"fieldstack.io/internal/apikey"
	"fieldstack.io/internal/nonce"
	"fieldstack.io/internal/obs"
	"fieldstack.io/internal/signing"
)

// Signed-request headers. All five are required.
const (
	HeaderKeyID     = "X-Provider-KeyId"
	HeaderTimestamp = "X-Provider-Timestamp"
	HeaderNonce     = "X-Provider-Nonce"
	HeaderSignature = "X-Provider-Signature"
	HeaderScope     = "X-Provider-Scope"
)

// Rejection codes, each tied to one pipeline stage.
const (
	codeMissingHeaders    = "missing_headers"
	codeClockSkew         = "clock_skew"
	codeReplayDetected    = "replay_detected"
	codeUnknownKey        = "unknown_key"
	codeRevokedKey        = "revoked_key"
	codeInsufficientScope = "insufficient_scope"
	codeInvalidSignature  = "invalid_signature"
	codeOrgMismatch       = "org_mismatch"
)

// Identity is the verified caller attached to the request context after
// the gate passes.
type Identity struct {
	KeyID string
	Scope string
	OrgID string
}

type identityContextKey struct{}

// ContextWithIdentity attaches the verified identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the verified identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	return v, ok
}

const maxSignedBody = 1 << 20

// withSignedRequest is the inbound gate for service-to-service calls.
// Cheap checks (headers, timestamp, nonce peek) run before any hashing;
// the nonce is consumed only after the signature verifies, so a request
// that fails signature verification never burns a nonce a legitimate
// future request could carry.
func (a *API) withSignedRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Required headers.
		keyID := r.Header.Get(HeaderKeyID)
		timestamp := r.Header.Get(HeaderTimestamp)
		nonceValue := r.Header.Get(HeaderNonce)
		sig := r.Header.Get(HeaderSignature)
		scope := r.Header.Get(HeaderScope)
		if keyID == "" || timestamp == "" || nonceValue == "" || sig == "" || scope == "" {
			a.rejectAuthn(w, http.StatusUnauthorized, codeMissingHeaders)
			return
		}

		// 2. Timestamp freshness.
		ts, err := signing.ParseTimestamp(timestamp)
		if err != nil || !signing.FreshEnough(ts, a.now()) {
			a.rejectAuthn(w, http.StatusUnauthorized, codeClockSkew)
			return
		}

		// 3. Nonce peek, keyed by signer.
		seen, err := a.requestNonces.Seen(r.Context(), keyID, nonceValue)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "nonce_store")
			return
		}
		if seen {
			obs.CountReplay()
			a.rejectAuthn(w, http.StatusUnauthorized, codeReplayDetected)
			return
		}

		// 4. Key lookup.
		key, err := a.keys.Get(r.Context(), keyID)
		if err != nil {
			if errors.Is(err, apikey.ErrNotFound) {
				a.rejectAuthn(w, http.StatusUnauthorized, codeUnknownKey)
				return
			}
			respondError(w, http.StatusInternalServerError, "key_store")
			return
		}
		if !key.IsActive {
			a.rejectAuthn(w, http.StatusUnauthorized, codeRevokedKey)
			return
		}

		// 5. Scope.
		if !key.HasScope(scope) {
			a.rejectAuthn(w, http.StatusForbidden, codeInsufficientScope)
			return
		}

		// 6. Signature over the canonical string. The MAC key is the
		// SHA-256 digest of the key secret: both sides can derive it,
		// and the registry never has to hold the plaintext secret.
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, "unreadable_body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		canonical := signing.Canonical(r.Method, r.URL.RequestURI(), keyID, timestamp, nonceValue, body)
		if !signing.Verify(key.SecretHash, canonical, sig) {
			a.rejectAuthn(w, http.StatusUnauthorized, codeInvalidSignature)
			return
		}

		// 7. Organization constraint.
		orgID := declaredOrg(r, body)
		if orgID != "" && !key.ValidForOrg(orgID) {
			a.rejectAuthn(w, http.StatusForbidden, codeOrgMismatch)
			return
		}

		// 8. Consume the nonce. The atomic check-and-record is what
		// guarantees at most one acceptance under concurrent replays.
		accepted, err := a.requestNonces.CheckAndRecord(r.Context(), keyID, nonceValue, nonce.DefaultRequestTTL)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "nonce_store")
			return
		}
		if !accepted {
			obs.CountReplay()
			a.rejectAuthn(w, http.StatusUnauthorized, codeReplayDetected)
			return
		}

		obs.CountAuthOutcome("ok")
		ctx := ContextWithIdentity(r.Context(), Identity{KeyID: keyID, Scope: scope, OrgID: orgID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) rejectAuthn(w http.ResponseWriter, status int, code string) {
	obs.CountAuthOutcome(code)
	respondError(w, status, code)
}

// declaredOrg pulls the organization claim from the query string or the
// JSON body. Absence means the key's constraint is not exercised.
func declaredOrg(r *http.Request, body []byte) string {
	if v := r.URL.Query().Get("orgId"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("org_id"); v != "" {
		return v
	}
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		OrgID string `json:"orgId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.OrgID
}
