package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fieldstack.io/internal/apikey"
	"fieldstack.io/internal/login"
	"fieldstack.io/internal/nonce"
	"fieldstack.io/internal/rbac"
	"fieldstack.io/internal/signing"
	"fieldstack.io/internal/ticket"
)

type testEnv struct {
	api    *API
	keys   *apikey.Registry
	now    time.Time
	key    *apikey.Key
	secret string
}

func newTestEnv(t *testing.T, scopes []string, orgID string) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return env.now }

	keys, err := apikey.NewRegistry(apikey.NewMemoryStore(), apikey.WithClock(clock))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	env.keys = keys
	key, secret, err := keys.Create(context.Background(), "k1", "", orgID, scopes)
	if err != nil {
		t.Fatalf("Create key: %v", err)
	}
	env.key, env.secret = key, secret

	ticketNonces := nonce.NewMemoryStore(0).WithClock(clock)
	tickets, err := ticket.NewIssuer([]byte("ticket-secret"), ticketNonces, ticket.WithClock(clock))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	authenticator, err := login.NewAuthenticator(login.Config{
		Primary: []login.EnvCredential{
			{Identity: "ops@fieldstack.io", Secret: "primary-secret", Class: login.ClassProvider},
		},
	}, login.NewMemoryAccountStore())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	env.api = New(Config{
		Version:       "test",
		Keys:          keys,
		RequestNonces: nonce.NewMemoryStore(0).WithClock(clock),
		Tickets:       tickets,
		Authenticator: authenticator,
		Now:           clock,
	})
	return env
}

// signedRequest builds a request carrying the five provider headers. The
// MAC key is the SHA-256 digest of the key secret, same as the registry
// stores.
func (e *testEnv) signedRequest(method, target, scope, nonceValue string, body []byte) *http.Request {
	timestamp := strconv.FormatInt(e.now.UnixMilli(), 10)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	canonical := signing.Canonical(method, req.URL.RequestURI(), e.key.ID, timestamp, nonceValue, body)
	req.Header.Set(HeaderKeyID, e.key.ID)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonceValue)
	req.Header.Set(HeaderScope, scope)
	req.Header.Set(HeaderSignature, signing.Sign(apikey.HashSecret(e.secret), canonical))
	return req
}

func do(api *API, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	return rr
}

func TestSignedRequestEndToEndAndReplay(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "o1")
	body := []byte(`{"orgId":"o1"}`)

	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations?a=1", rbac.PermEscalationCreate, "n1", body)
	rr := do(env.api, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	// Byte-identical replay of the same five headers fails.
	replay := env.signedRequest(http.MethodPost, "/v1/federation/escalations?a=1", rbac.PermEscalationCreate, "n1", body)
	rr = do(env.api, replay)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", rr.Code)
	}
	if got := rr.Body.String(); !bytes.Contains([]byte(got), []byte("replay_detected")) {
		t.Fatalf("replay: unexpected body %s", got)
	}
}

func TestMissingHeaders(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "")
	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", nil)
	req.Header.Del(HeaderNonce)
	rr := do(env.api, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("missing_headers")) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestClockSkewRejection(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "")
	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", nil)

	// Shift the verifier clock past the tolerance; the headers keep the
	// signing-time timestamp.
	env.now = env.now.Add(signing.ClockSkewTolerance + time.Second)
	rr := do(env.api, req)
	if rr.Code != http.StatusUnauthorized || !bytes.Contains(rr.Body.Bytes(), []byte("clock_skew")) {
		t.Fatalf("expected clock_skew 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownAndRevokedKey(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "")

	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", nil)
	req.Header.Set(HeaderKeyID, "missing")
	rr := do(env.api, req)
	if rr.Code != http.StatusUnauthorized || !bytes.Contains(rr.Body.Bytes(), []byte("unknown_key")) {
		t.Fatalf("unknown key: got %d: %s", rr.Code, rr.Body.String())
	}

	if _, err := env.keys.Revoke(context.Background(), env.key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	req = env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n2", nil)
	rr = do(env.api, req)
	if rr.Code != http.StatusUnauthorized || !bytes.Contains(rr.Body.Bytes(), []byte("revoked_key")) {
		t.Fatalf("revoked key: got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestInsufficientScope(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermBillingRead}, "")
	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", nil)
	rr := do(env.api, req)
	if rr.Code != http.StatusForbidden || !bytes.Contains(rr.Body.Bytes(), []byte("insufficient_scope")) {
		t.Fatalf("expected insufficient_scope 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestInvalidSignatureDoesNotBurnNonce(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "")

	// A tampered signature is rejected at the signature stage.
	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", nil)
	req.Header.Set(HeaderSignature, "bogus-signature")
	rr := do(env.api, req)
	if rr.Code != http.StatusUnauthorized || !bytes.Contains(rr.Body.Bytes(), []byte("invalid_signature")) {
		t.Fatalf("expected invalid_signature 401, got %d: %s", rr.Code, rr.Body.String())
	}

	// The nonce survives for a correctly signed retry.
	req = env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", nil)
	rr = do(env.api, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("retry after bad signature: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrgMismatch(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "o1")

	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", []byte(`{"orgId":"o2"}`))
	rr := do(env.api, req)
	if rr.Code != http.StatusForbidden || !bytes.Contains(rr.Body.Bytes(), []byte("org_mismatch")) {
		t.Fatalf("expected org_mismatch 403, got %d: %s", rr.Code, rr.Body.String())
	}

	// Query-declared org is checked the same way.
	req = env.signedRequest(http.MethodPost, "/v1/federation/escalations?org_id=o2", rbac.PermEscalationCreate, "n2", nil)
	rr = do(env.api, req)
	if rr.Code != http.StatusForbidden || !bytes.Contains(rr.Body.Bytes(), []byte("org_mismatch")) {
		t.Fatalf("query org: expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestIdentityContextAttached(t *testing.T) {
	env := newTestEnv(t, []string{rbac.PermEscalationCreate}, "o1")
	body := []byte(`{"orgId":"o1"}`)
	req := env.signedRequest(http.MethodPost, "/v1/federation/escalations", rbac.PermEscalationCreate, "n1", body)
	rr := do(env.api, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"key_id":"k1"`)) || !bytes.Contains(rr.Body.Bytes(), []byte(`"org_id":"o1"`)) {
		t.Fatalf("identity not propagated: %s", rr.Body.String())
	}
}
