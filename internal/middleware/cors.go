// Package middleware provides HTTP middleware for the LendFlow API.
package middleware

import "net/http"

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			wildcard, explicit := matchOrigin(allowedOrigins, origin)
			if origin != "" && (wildcard || explicit) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicitly listed origins; echoing a
				// wildcard match with credentials enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is covered by a wildcard entry and
// whether it is listed explicitly.
func matchOrigin(allowed []string, origin string) (wildcard, explicit bool) {
	for _, o := range allowed {
		switch {
		case o == "*":
			wildcard = true
		case o == origin:
			explicit = true
		}
	}
	return wildcard, explicit
}
