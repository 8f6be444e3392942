package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
	"github.com/correlator-io/sdbridge/internal/detection"
)

// paramError represents a query parameter validation error.
type paramError struct {
	param string
	msg   string
}

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// handleSegment handles GET /api/v1/segments.
// Returns the wfdisc ids recorded for a channel segment by earlier detection queries.
//
// Query Parameters:
//   - station, channel: required
//   - startTime, endTime: RFC 3339 timestamps, endTime not before startTime
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	segment, err := parseSegmentParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	wfids, err := s.segments.Lookup(r.Context(), segment)
	if err != nil {
		s.logger.Error("Failed to look up channel segment",
			slog.String("correlation_id", correlationID),
			slog.String("segment", segment.String()),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to look up channel segment"))

		return
	}

	if len(wfids) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No waveforms recorded for segment "+segment.String()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, SegmentResponse{Segment: segment, WaveformIDs: wfids})
}

func parseSegmentParams(r *http.Request) (detection.SegmentDescriptor, error) {
	q := r.URL.Query()

	segment := detection.SegmentDescriptor{
		Station: q.Get("station"),
		Channel: q.Get("channel"),
	}

	if segment.Station == "" {
		return segment, &paramError{param: "station", msg: "required"}
	}

	if segment.Channel == "" {
		return segment, &paramError{param: "channel", msg: "required"}
	}

	var err error

	if segment.StartTime, err = time.Parse(time.RFC3339Nano, q.Get("startTime")); err != nil {
		return segment, &paramError{param: "startTime", msg: "must be an RFC 3339 timestamp"}
	}

	if segment.EndTime, err = time.Parse(time.RFC3339Nano, q.Get("endTime")); err != nil {
		return segment, &paramError{param: "endTime", msg: "must be an RFC 3339 timestamp"}
	}

	if !segment.Valid() {
		return segment, &paramError{param: "endTime", msg: "must not be before startTime"}
	}

	return segment, nil
}
