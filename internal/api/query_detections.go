package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
	"github.com/correlator-io/sdbridge/internal/stage"
)

// handleDetectionsByIDs handles POST /api/v1/detections/by-ids.
//
// Unknown detection ids are ignored and an unknown stage yields an empty list, so a
// well-formed request only fails when the legacy store does.
func (s *Server) handleDetectionsByIDs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	req, problem := decodeRequest[DetectionsByIDsRequest](w, r, s.config.MaxRequestSize)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(req.IDs) > s.config.MaxBatchSize {
		WriteErrorResponse(w, r, s.logger, batchTooLarge("ids", len(req.IDs), s.config.MaxBatchSize))

		return
	}

	dets, err := s.detections.FindByIDs(r.Context(), req.IDs, stage.New(req.Stage))
	if err != nil {
		s.writeBridgeError(w, r, "find detections by ids", err)

		return
	}

	s.logger.Info("Detections queried by id",
		slog.String("correlation_id", correlationID),
		slog.String("stage", req.Stage),
		slog.Int("requested", len(req.IDs)),
		slog.Int("returned", len(dets)),
		slog.Duration("duration", time.Since(start)),
	)

	s.writeJSON(w, r, http.StatusOK, DetectionsResponse{
		Detections:    nonNil(dets),
		CorrelationID: correlationID,
	})
}

// handleDetectionsByStations handles POST /api/v1/detections/by-stations.
//
// The time window is widened by the configured measured waveform lead and lag before the
// legacy arrival query runs.
func (s *Server) handleDetectionsByStations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	req, problem := decodeRequest[DetectionsByStationsRequest](w, r, s.config.MaxRequestSize)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(req.Stations) > s.config.MaxBatchSize {
		WriteErrorResponse(w, r, s.logger, batchTooLarge("stations", len(req.Stations), s.config.MaxBatchSize))

		return
	}

	if len(req.ExcludedIDs) > s.config.MaxBatchSize {
		WriteErrorResponse(w, r, s.logger,
			batchTooLarge("excludedIds", len(req.ExcludedIDs), s.config.MaxBatchSize))

		return
	}

	dets, err := s.detections.FindByStationsAndTime(r.Context(),
		req.Stations, req.StartTime, req.EndTime, stage.New(req.Stage), req.ExcludedIDs)
	if err != nil {
		s.writeBridgeError(w, r, "find detections by stations", err)

		return
	}

	s.logger.Info("Detections queried by station and time",
		slog.String("correlation_id", correlationID),
		slog.String("stage", req.Stage),
		slog.Any("stations", req.Stations),
		slog.Time("start_time", req.StartTime),
		slog.Time("end_time", req.EndTime),
		slog.Int("excluded", len(req.ExcludedIDs)),
		slog.Int("returned", len(dets)),
		slog.Duration("duration", time.Since(start)),
	)

	s.writeJSON(w, r, http.StatusOK, DetectionsResponse{
		Detections:    nonNil(dets),
		CorrelationID: correlationID,
	})
}

// writeBridgeError logs a repository failure and writes its problem. Caller errors are
// logged at warn level.
func (s *Server) writeBridgeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	problem := problemForBridgeError(err)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	s.logger.Log(r.Context(), level, "Bridge query failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, problem)
}

// nonNil keeps empty results encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
