package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretAuth admits requests carrying the shared secret either as
// "Authorization: Bearer <secret>" or as the "auth" query parameter. An empty
// secret rejects everything. Rejections never say why.
func SecretAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorized(r, secret) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		if subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(secret)) == 1 {
			return true
		}
	}
	if q := r.URL.Query().Get("auth"); q != "" {
		return subtle.ConstantTimeCompare([]byte(q), []byte(secret)) == 1
	}
	return false
}
