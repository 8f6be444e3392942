package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// ClientIDHeader names the calling client. It only selects a rate limit bucket and is
// not an authentication credential.
const ClientIDHeader = "X-Client-ID"

// clientIDPattern bounds what a client may put in the header so rate limiter keys and
// log lines stay small and printable.
var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// clientIDKey is the context key for the client identifier.
type clientIDKey struct{}

// ClientIdentity creates a middleware that stores the X-Client-ID header in the request
// context. Malformed values are ignored and the request is treated as anonymous.
func ClientIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader))
			if !clientIDPattern.MatchString(clientID) {
				next.ServeHTTP(w, r)

				return
			}

			next.ServeHTTP(w, r.WithContext(SetClientID(r.Context(), clientID)))
		})
	}
}

// GetClientID returns the client identifier of the request, if any.
func GetClientID(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientIDKey{}).(string)

	return clientID, ok
}

// SetClientID returns a copy of ctx carrying clientID.
func SetClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}
