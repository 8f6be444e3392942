package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig provides CORS settings. It is implemented by api.CORSConfig.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS creates a middleware that handles Cross-Origin Resource Sharing and answers
// preflight requests with 204.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := w.Header()

			if origin := allowedOrigin(r.Header.Get("Origin"), config.GetAllowedOrigins()); origin != "" {
				header.Set("Access-Control-Allow-Origin", origin)

				if origin != "*" {
					header.Add("Vary", "Origin")
				}
			}

			if methods := config.GetAllowedMethods(); len(methods) > 0 {
				header.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			}

			if headers := config.GetAllowedHeaders(); len(headers) > 0 {
				header.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
			}

			if maxAge := config.GetMaxAge(); maxAge > 0 {
				header.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin, or "" when the
// origin is not allowed.
func allowedOrigin(origin string, allowed []string) string {
	if len(allowed) == 1 && allowed[0] == "*" {
		return "*"
	}

	if origin != "" && slices.Contains(allowed, origin) {
		return origin
	}

	return ""
}
