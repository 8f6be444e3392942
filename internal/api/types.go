package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/correlator-io/sdbridge/internal/detection"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// DetectionsByIDsRequest queries signal detections by id as seen from one stage.
	// An empty ids list is valid and yields an empty result.
	DetectionsByIDsRequest struct {
		IDs   []uuid.UUID `json:"ids"   validate:"required"`
		Stage string      `json:"stage" validate:"required"`
	}

	// DetectionsByStationsRequest queries the signal detections of one stage whose arrivals
	// lie on the given reference stations inside [startTime, endTime].
	DetectionsByStationsRequest struct {
		Stations    []string    `json:"stations"              validate:"required,min=1,dive,required"`
		StartTime   time.Time   `json:"startTime"             validate:"required"`
		EndTime     time.Time   `json:"endTime"               validate:"required,gtefield=StartTime"`
		Stage       string      `json:"stage"                 validate:"required"`
		ExcludedIDs []uuid.UUID `json:"excludedIds,omitempty"`
	}

	// HypothesesByIDsRequest queries hypotheses by their composite id.
	HypothesesByIDsRequest struct {
		IDs []detection.HypothesisID `json:"ids" validate:"required"`
	}

	// FiltersByHypothesesRequest queries the filter definitions used by hypotheses.
	FiltersByHypothesesRequest struct {
		Hypotheses []detection.HypothesisID `json:"hypotheses" validate:"required"`
	}

	// DetectionsResponse carries signal detections in stage-then-arrival order.
	DetectionsResponse struct {
		Detections    []detection.SignalDetection `json:"detections"`
		CorrelationID string                      `json:"correlationId"`
	}

	// HypothesesResponse carries hypotheses.
	HypothesesResponse struct {
		Hypotheses    []detection.Hypothesis `json:"hypotheses"`
		CorrelationID string                 `json:"correlationId"`
	}

	// FilterRecord lists the legacy filter ids of one hypothesis keyed by usage name.
	FilterRecord struct {
		Hypothesis detection.HypothesisID          `json:"hypothesis"`
		Filters    map[detection.FilterUsage]int64 `json:"filters"`
	}

	// FiltersResponse carries filter records in request order. Partial is set when some
	// hypotheses could not be resolved against the legacy store.
	FiltersResponse struct {
		Filters       []FilterRecord `json:"filters"`
		Partial       bool           `json:"partial"`
		CorrelationID string         `json:"correlationId"`
	}

	// SegmentResponse lists the wfdisc ids backing a channel segment.
	SegmentResponse struct {
		Segment     detection.SegmentDescriptor `json:"segment"`
		WaveformIDs []int64                     `json:"waveformIds"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string       // The URL pattern for this route (e.g., "GET /ping")
		Handler http.Handler // The HTTP handler for this route
	}
)
