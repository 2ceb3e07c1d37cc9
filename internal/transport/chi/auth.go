package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretAuthMiddleware returns a middleware that validates the shared
// dispatch secret. The external scheduler that triggers dispatch cycles
// cannot always set headers, so a ?secret= query parameter is accepted
// as an alternative to the Bearer header.
func SecretAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if presented == "" {
				presented = r.URL.Query().Get("secret")
			}
			if presented == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing dispatch secret")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid dispatch secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(auth, bearerPrefix) {
		return ""
	}
	return auth[len(bearerPrefix):]
}
