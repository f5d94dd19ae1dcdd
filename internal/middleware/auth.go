package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vidproof/backend/internal/logging"
)

// RequireSecret admits requests whose bearer token equals secret. An empty secret disables
// the check.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return requireToken(secret == "", func(token string) bool {
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
	})
}

// RequireTokenHash admits requests whose bearer token matches the bcrypt hash. An empty hash
// disables the check.
func RequireTokenHash(hash string) func(http.Handler) http.Handler {
	return requireToken(hash == "", func(token string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
	})
}

func requireToken(disabled bool, valid func(token string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if disabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || !valid(token) {
				logging.FromContext(r.Context()).Warn("unauthorized request", "hasToken", ok)
				w.Header().Set("WWW-Authenticate", `Bearer realm="vidproof"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Chain applies middlewares so the first one listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
