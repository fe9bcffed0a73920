package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fieldstack.io/internal/audit"
	"fieldstack.io/internal/login"
	"fieldstack.io/internal/rbac"
	"fieldstack.io/internal/session"
	"fieldstack.io/internal/ticket"
)

var roleClasses = map[string]string{
	rbac.RoleProviderAdmin:   login.ClassProvider,
	rbac.RoleProviderAnalyst: login.ClassProvider,
	rbac.RoleDeveloper:       login.ClassDeveloper,
	rbac.RoleAIDev:           login.ClassDeveloper,
}

func classForRole(role string) string {
	if class, ok := roleClasses[role]; ok {
		return class
	}
	return login.ClassTenant
}

// Login authenticates a credential attempt and sets the class session
// cookie on success. A pending second factor is a 200 with a distinct
// status, not a failure: the caller re-prompts and retries.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var req struct {
		Identity     string `json:"identity"`
		Password     string `json:"password"`
		TOTPCode     string `json:"totp_code"`
		RecoveryCode string `json:"recovery_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed_request")
		return
	}

	result, err := a.authenticator.Authenticate(r.Context(), login.Credentials{
		Identity:     req.Identity,
		Password:     req.Password,
		TOTPCode:     req.TOTPCode,
		RecoveryCode: req.RecoveryCode,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "authentication_error")
		return
	}

	switch result.Outcome {
	case login.OutcomeSuccess:
		token, err := newSessionToken()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "session_error")
			return
		}
		session.Issue(w, result.Class, token, a.production, 0)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"identity": result.Identity,
			"class":    result.Class,
		})
	case login.OutcomeSecondFactorRequired:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "second_factor_required",
		})
	default:
		respondError(w, http.StatusUnauthorized, string(result.Outcome))
	}
}

// IssueTicket mints an SSO handoff ticket. Behind the signed-request
// gate: only a key holding the sso issuance scope may call it.
func (a *API) IssueTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	if identity.Scope != ScopeSSOIssue {
		respondError(w, http.StatusForbidden, codeInsufficientScope)
		return
	}
	var req struct {
		Identity string `json:"identity"`
		Role     string `json:"role"`
		Audience string `json:"audience"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	token, err := a.tickets.Issue(req.Identity, req.Role, req.Audience, ticket.DefaultExpiry)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	_ = audit.LogEvent(r.Context(), "sso.ticket_issued", map[string]any{
		"subject":  req.Identity,
		"audience": req.Audience,
		"key_id":   identity.KeyID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ticket": token})
}

// ConsumeTicket verifies a handoff ticket and converts it into a local
// session cookie. Verification consumes the ticket's nonce, so a second
// presentation fails as a replay.
func (a *API) ConsumeTicket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("ticket")
	aud := r.URL.Query().Get("aud")
	if token == "" || aud == "" {
		respondError(w, http.StatusUnauthorized, "missing_ticket")
		return
	}
	payload, err := a.tickets.Verify(r.Context(), token, aud)
	if err != nil {
		code := "invalid_ticket"
		switch {
		case errors.Is(err, ticket.ErrExpired):
			code = "expired_ticket"
		case errors.Is(err, ticket.ErrReplayed):
			code = "replayed_ticket"
		case errors.Is(err, ticket.ErrAudience):
			code = "audience_mismatch"
		}
		respondError(w, http.StatusUnauthorized, code)
		return
	}
	sessionToken, err := newSessionToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_error")
		return
	}
	session.Issue(w, classForRole(payload.Role), sessionToken, a.production, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"identity": payload.Subject,
		"role":     payload.Role,
	})
}

// Keys routes API key administration. The caller signs with a key
// holding the admin scope and names the acting role; the role is
// evaluated against the permission matrix, including the production
// write restriction.
func (a *API) Keys(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if identity.Scope != ScopeKeysAdmin {
		respondError(w, http.StatusForbidden, codeInsufficientScope)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/keys":
		a.createKey(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/keys/"):
		a.revokeKey(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	}
}

func (a *API) createKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeyID     string   `json:"key_id"`
		OrgID     string   `json:"orgId"`
		Scopes    []string `json:"scopes"`
		ActorRole string   `json:"actor_role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	if !rbac.Allowed(req.ActorRole, rbac.PermKeysAdmin, a.production) {
		respondError(w, http.StatusForbidden, "permission_denied")
		return
	}
	key, secret, err := a.keys.Create(r.Context(), req.KeyID, "", req.OrgID, req.Scopes)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	_ = audit.LogEvent(r.Context(), "apikey.created", map[string]any{
		"key_id": key.ID,
		"org_id": key.OrgID,
		"actor":  req.ActorRole,
	})
	// The plaintext secret appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"key_id": key.ID,
		"secret": secret,
	})
}

func (a *API) revokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := strings.TrimPrefix(r.URL.Path, "/v1/keys/")
	actorRole := r.URL.Query().Get("actor_role")
	if !rbac.Allowed(actorRole, rbac.PermKeysAdmin, a.production) {
		respondError(w, http.StatusForbidden, "permission_denied")
		return
	}
	revoked, err := a.keys.Revoke(r.Context(), keyID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	if !revoked {
		respondError(w, http.StatusNotFound, "unknown_key")
		return
	}
	_ = audit.LogEvent(r.Context(), "apikey.revoked", map[string]any{
		"key_id": keyID,
		"actor":  actorRole,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

// CreateEscalation is the escalation intake shared with partner
// applications. The business handling lives in the collaborating
// service; this handler only demonstrates the gate plus permission
// composition for a write operation.
func (a *API) CreateEscalation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	if identity.Scope != rbac.PermEscalationCreate {
		respondError(w, http.StatusForbidden, codeInsufficientScope)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"key_id": identity.KeyID,
		"org_id": identity.OrgID,
	})
}

// Scopes carried by service keys for the endpoints above.
const (
	ScopeSSOIssue  = "federation:sso:issue"
	ScopeKeysAdmin = "federation:keys:admin"
)

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
