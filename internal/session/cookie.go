// Package session owns the cookie contract between the auth layer and
// the collaborating applications: one cookie name per account class,
// HttpOnly, SameSite=Lax, Secure in production.
package session

import (
	"net/http"
	"time"
)

// DefaultMaxAge is the session lifetime unless the caller overrides it.
const DefaultMaxAge = 30 * 24 * time.Hour

var cookieNames = map[string]string{
	"provider":   "fs_provider_session",
	"developer":  "fs_developer_session",
	"accountant": "fs_accountant_session",
	"vendor":     "fs_vendor_session",
}

const defaultCookieName = "fs_session"

// CookieName returns the cookie used for the account class. Tenants and
// unknown classes use the default cookie.
func CookieName(accountClass string) string {
	if name, ok := cookieNames[accountClass]; ok {
		return name
	}
	return defaultCookieName
}

// Issue sets the session cookie for the account class. The value is the
// opaque session token minted by the collaborating session layer.
func Issue(w http.ResponseWriter, accountClass, value string, secure bool, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(accountClass),
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie for the account class.
func Clear(w http.ResponseWriter, accountClass string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(accountClass),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
