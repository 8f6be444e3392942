package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	contentTypeProblemJSON = "application/problem+json"
)

var validate = newValidator()

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerRoutes(mux,
		Route{"GET /ping", http.HandlerFunc(s.handlePing)},     // K8s liveness probe
		Route{"GET /ready", http.HandlerFunc(s.handleReady)},   // K8s readiness probe
		Route{"GET /health", http.HandlerFunc(s.handleHealth)}, // status, uptime, version
		Route{"GET /metrics", promhttp.Handler()},
		Route{"/", http.HandlerFunc(s.handleNotFound)}, // Catch-all handler for 404 responses
	)

	s.registerRoutes(mux,
		Route{"POST /api/v1/detections/by-ids", http.HandlerFunc(s.handleDetectionsByIDs)},
		Route{"POST /api/v1/detections/by-stations", http.HandlerFunc(s.handleDetectionsByStations)},
		Route{"POST /api/v1/hypotheses/by-ids", http.HandlerFunc(s.handleHypothesesByIDs)},
		Route{"POST /api/v1/filters/by-hypotheses", http.HandlerFunc(s.handleFiltersByHypotheses)},
	)

	if s.segments != nil {
		s.registerRoutes(mux, Route{"GET /api/v1/segments", http.HandlerFunc(s.handleSegment)})
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		if strings.TrimSpace(route.Path) == "" {
			s.logger.Warn("Malformed route path detected, ignoring route")

			continue
		}

		mux.Handle(route.Path, route.Handler)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady responds to Kubernetes readiness probes. Every configured health check
// (legacy database, segment cache) must pass within healthCheckTimeout.
//
// Response codes:
//   - 200 OK: all backends are reachable
//   - 503 Service Unavailable: the first failing backend is named in the body
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	for _, name := range slices.Sorted(maps.Keys(s.checks)) {
		if err := s.probe(r.Context(), s.checks[name]); err != nil {
			s.logger.Error("Readiness check failed",
				slog.String("correlation_id", correlationID),
				slog.String("backend", name),
				slog.String("error", err.Error()),
			)

			s.writeText(w, r, http.StatusServiceUnavailable, name+" unavailable")

			return
		}
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

func (s *Server) probe(ctx context.Context, checker HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	return checker.HealthCheck(ctx)
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set("X-Sdbridge-Version", s.version)

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     s.version,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// writeJSON marshals v before writing headers so an encoding failure can still be
// reported as a 500.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to marshal response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// decodeRequest reads a JSON body into T and validates it.
//
// Validates:
//   - Content-Type is application/json (415)
//   - Request size against maxSize (413)
//   - Non-empty body and well-formed JSON without unknown fields (400)
//   - Struct validation tags (400)
func decodeRequest[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, *ProblemDetail) {
	var req T

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return req, UnsupportedMediaType("Content-Type must be application/json")
	}

	if r.ContentLength > maxSize {
		return req, PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxSize))
	}

	if r.ContentLength == 0 {
		return req, BadRequest("Request body cannot be empty")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxSize))
		}

		return req, BadRequest("Invalid JSON: " + err.Error())
	}

	if err := validate.Struct(req); err != nil {
		return req, BadRequest(validationDetail(err))
	}

	return req, nil
}

// validationDetail renders validator errors as "field: rule" pairs.
func validationDetail(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return "Invalid request: " + err.Error()
	}

	parts := make([]string, 0, len(fieldErrors))

	for _, fe := range fieldErrors {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}

		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), rule))
	}

	return "Invalid request: " + strings.Join(parts, "; ")
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
