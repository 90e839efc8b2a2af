package apiserver

import (
	"net/http"
	"strings"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/auth"
)

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// deviceAuth resolves the device bearer token and stores the device
// id on the request context for handlers and the rate limiter.
func deviceAuth(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			device, err := a.AuthenticateDevice(r.Context(), bearerToken(r))
			if err != nil {
				WriteJSONError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withDeviceID(r.Context(), device.ID)))
		})
	}
}

// adminAuth accepts either a static admin key header or a signed
// admin JWT bearer token (spec §4.1).
func adminAuth(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-Admin-Key"); key != "" {
				if !a.CheckAdminKey(key) {
					WriteJSONError(w, apperr.New(apperr.Unauthorized, "invalid admin key"))
					return
				}
				next.ServeHTTP(w, r.WithContext(withAdminSubject(r.Context(), "admin-key")))
				return
			}

			subject, err := a.VerifyAdminJWT(bearerToken(r))
			if err != nil {
				WriteJSONError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAdminSubject(r.Context(), subject)))
		})
	}
}
