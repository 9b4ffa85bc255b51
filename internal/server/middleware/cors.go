package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST"
	corsHeaders = "Content-Type, Authorization, X-API-Key"
	// Retry-After is set on 429 responses from RateLimit.
	corsExpose = "Retry-After"
	corsMaxAge = "600"
)

// CORS returns middleware answering browser cross-origin checks for the price
// API. An empty list or a "*" entry allows any origin. Origins are compared
// case-insensitively.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	open := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			open = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			ok := origin != "" && (open || allowed[strings.ToLower(origin)])
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", corsExpose)
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
