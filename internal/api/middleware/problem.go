package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProblemType returns the RFC 7807 type URI of a status code.
func ProblemType(status int) string {
	return fmt.Sprintf("https://sdbridge.dev/problems/%d", status)
}

// writeProblem writes an RFC 7807 problem from inside the middleware chain, where the
// api package's ProblemDetail is not reachable.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail, correlationID string) error {
	problem := map[string]any{
		"type":          ProblemType(status),
		"title":         http.StatusText(status),
		"status":        status,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
