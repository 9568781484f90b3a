package auth

import (
	"log/slog"
	"net/http"
)

// Middleware rejects requests without a valid bearer token by calling deny,
// and otherwise stores the verified claims in the request context.
func Middleware(verifier *Verifier, log *slog.Logger, deny http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				deny(w, r)
				return
			}
			token, ok := extractBearerToken(header)
			if !ok {
				log.Debug("auth failure: malformed authorization header", "path", r.URL.Path)
				deny(w, r)
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				log.Debug("auth failure: token invalid", "path", r.URL.Path, "err", err)
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
