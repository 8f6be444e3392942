package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
	"github.com/correlator-io/sdbridge/internal/bridge"
	"github.com/correlator-io/sdbridge/internal/detection"
)

// handleFiltersByHypotheses handles POST /api/v1/filters/by-hypotheses.
//
// Success responses:
//   - 200 OK: every hypothesis was resolved
//   - 206 Partial Content: some hypotheses could not be resolved; partial is true
func (s *Server) handleFiltersByHypotheses(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	req, problem := decodeRequest[FiltersByHypothesesRequest](w, r, s.config.MaxRequestSize)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(req.Hypotheses) > s.config.MaxBatchSize {
		WriteErrorResponse(w, r, s.logger,
			batchTooLarge("hypotheses", len(req.Hypotheses), s.config.MaxBatchSize))

		return
	}

	result, err := s.detections.FindFilterRecordsForHypotheses(r.Context(), req.Hypotheses)
	if err != nil {
		s.writeBridgeError(w, r, "find filter records", err)

		return
	}

	records := filterRecords(req.Hypotheses, result.Results)

	status := http.StatusOK
	if result.Partial {
		status = http.StatusPartialContent
	}

	s.logger.Info("Filter records queried",
		slog.String("correlation_id", correlationID),
		slog.Int("requested", len(req.Hypotheses)),
		slog.Int("resolved", len(records)),
		slog.Bool("partial", result.Partial),
		slog.Duration("duration", time.Since(start)),
	)

	s.writeJSON(w, r, status, FiltersResponse{
		Filters:       records,
		Partial:       result.Partial,
		CorrelationID: correlationID,
	})
}

// filterRecords flattens table into one record per hypothesis, in request order and
// without duplicates.
func filterRecords(requested []detection.HypothesisID, table bridge.FilterTable) []FilterRecord {
	records := make([]FilterRecord, 0, len(table))
	emitted := make(map[detection.HypothesisID]struct{}, len(table))

	for _, h := range requested {
		usages, ok := table[h]
		if !ok {
			continue
		}

		if _, dup := emitted[h]; dup {
			continue
		}

		emitted[h] = struct{}{}

		records = append(records, FilterRecord{Hypothesis: h, Filters: usages})
	}

	return records
}
