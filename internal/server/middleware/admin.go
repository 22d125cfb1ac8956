package middleware

import (
	"net/http"

	"github.com/faucetdb/keygate/internal/service"
)

// SessionCookieName is the admin session cookie.
const SessionCookieName = "keygate_admin_session"

// SessionToken returns the admin session cookie value, or "".
func SessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// RequireAdminSession rejects requests without a valid admin session. When
// no admin credentials are configured every request passes. Every failure
// looks the same to the client.
func RequireAdminSession(signer *service.SessionSigner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !signer.Authenticated(SessionToken(r)) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
