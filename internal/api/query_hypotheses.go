package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
)

// handleHypothesesByIDs handles POST /api/v1/hypotheses/by-ids.
// Ids the bridge never issued are skipped.
func (s *Server) handleHypothesesByIDs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	req, problem := decodeRequest[HypothesesByIDsRequest](w, r, s.config.MaxRequestSize)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(req.IDs) > s.config.MaxBatchSize {
		WriteErrorResponse(w, r, s.logger, batchTooLarge("ids", len(req.IDs), s.config.MaxBatchSize))

		return
	}

	hyps, err := s.detections.FindHypothesesByIDs(r.Context(), req.IDs)
	if err != nil {
		s.writeBridgeError(w, r, "find hypotheses by ids", err)

		return
	}

	s.logger.Info("Hypotheses queried by id",
		slog.String("correlation_id", correlationID),
		slog.Int("requested", len(req.IDs)),
		slog.Int("returned", len(hyps)),
		slog.Duration("duration", time.Since(start)),
	)

	s.writeJSON(w, r, http.StatusOK, HypothesesResponse{
		Hypotheses:    nonNil(hyps),
		CorrelationID: correlationID,
	})
}
