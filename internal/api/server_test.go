package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
	"github.com/correlator-io/sdbridge/internal/bridge"
	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/identity"
	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
	"github.com/correlator-io/sdbridge/internal/storage"
)

const stagesYAML = `
monitoring_organization: CTBTO
measured_waveform_lead: 5s
measured_waveform_lag: 30s
stages:
  - name: AUTO_NETWORK
    account: soccpro
  - name: AL1
    account: al1
`

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type (
	apiFixture struct {
		server   *Server
		registry *identity.Registry
		segments *bridge.MemorySegmentCache
		soccpro  *storage.InMemoryAccount
		al1      *storage.InMemoryAccount
	}

	stubChecker struct {
		err error
	}

	// failingStore answers every query with err.
	failingStore struct {
		err error
	}
)

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func (s failingStore) FindByIDs(context.Context, []uuid.UUID, stage.Stage) ([]detection.SignalDetection, error) {
	return nil, s.err
}

func (s failingStore) FindByStationsAndTime(
	context.Context, []string, time.Time, time.Time, stage.Stage, []uuid.UUID,
) ([]detection.SignalDetection, error) {
	return nil, s.err
}

func (s failingStore) FindHypothesesByIDs(context.Context, []detection.HypothesisID) ([]detection.Hypothesis, error) {
	return nil, s.err
}

func (s failingStore) FindFilterRecordsForHypotheses(
	context.Context, []detection.HypothesisID,
) (bridge.BatchResult[bridge.FilterTable], error) {
	return bridge.BatchResult[bridge.FilterTable]{}, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "localhost",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		LogLevel:        slog.LevelError,
		MaxRequestSize:  int64(defaultMaxRequestSize),
		MaxBatchSize:    10,
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         60,
		},
	}
}

func newAPIFixture(t *testing.T, checks map[string]HealthChecker) *apiFixture {
	t.Helper()

	def, err := stage.ParseDefinition([]byte(stagesYAML))
	require.NoError(t, err)

	topo, err := stage.NewTopology(def)
	require.NoError(t, err)

	f := &apiFixture{
		registry: identity.NewRegistry(identity.WithLogger(quietLogger())),
		segments: bridge.NewMemorySegmentCache(),
		soccpro:  storage.NewInMemoryAccount(),
		al1:      storage.NewInMemoryAccount(),
	}

	accounts := storage.NewAccounts()
	accounts.Register("soccpro", f.soccpro)
	accounts.Register("al1", f.al1)

	repo, err := bridge.NewRepository(topo, accounts, f.registry,
		bridge.WithLogger(quietLogger()),
		bridge.WithSegmentCache(f.segments))
	require.NoError(t, err)

	f.server, err = NewServer(testServerConfig(), Dependencies{
		Detections:   repo,
		Segments:     f.segments,
		HealthChecks: checks,
		Version:      "v0.0.0-test",
		Logger:       quietLogger(),
	})
	require.NoError(t, err)

	return f
}

// seed loads arrival 1 on AS01 unchanged into both stages, associated to origin 100 in
// AL1, plus arrival 2 on AS02 in AL1 only. Both AL1 stations belong to array ASAR.
func (f *apiFixture) seed() {
	wfdisc := legacy.Wfdisc{
		ID: 1000, Station: "AS01", Channel: "SHZ", Time: t0, EndTime: t0.Add(time.Hour),
		SampleRate: 40, LoadDate: t0,
	}

	f.soccpro.
		AddArrivals(testArrival(1, "AS01", 10*time.Minute)).
		AddWfdiscs(wfdisc)

	f.al1.
		AddSites(
			legacy.Site{Station: "AS01", ReferenceStation: "ASAR", OnDate: t0.Add(-24 * time.Hour)},
			legacy.Site{Station: "AS02", ReferenceStation: "ASAR", OnDate: t0.Add(-24 * time.Hour)},
		).
		AddArrivals(testArrival(1, "AS01", 10*time.Minute), testArrival(2, "AS02", 20*time.Minute)).
		AddAssocs(legacy.Assoc{
			Key:      legacy.AridOridKey{ArrivalID: 1, OriginID: 100},
			Phase:    "Pn",
			Distance: 12.5,
			LoadDate: t0,
		}).
		AddWfdiscs(wfdisc, legacy.Wfdisc{
			ID: 2000, Station: "AS02", Channel: "SHZ", Time: t0, EndTime: t0.Add(time.Hour),
			SampleRate: 40, LoadDate: t0,
		}).
		AddAmplitudes(legacy.Amplitude{ID: 9, ArrivalID: 1, Type: legacy.AmplitudeTypeA5Over2}).
		AddArrivalDynPars(
			legacy.ArrivalDynParsInt{ArrivalID: 1, GroupName: "DETECT", ParamName: legacy.FilterParamName, Value: 7},
		).
		AddAmplitudeDynPars(
			legacy.AmplitudeDynParsInt{AmplitudeID: 9, GroupName: "MEASURE", ParamName: legacy.FilterParamName, Value: 11},
		)
}

func testArrival(id int64, station string, offset time.Duration) legacy.Arrival {
	return legacy.Arrival{
		ID: id, Station: station, Channel: "SHZ", Time: t0.Add(offset), Phase: "P",
		Amplitude: 1.5, Period: 0.8, LoadDate: t0,
	}
}

func (f *apiFixture) hypothesis(account string, arid int64) detection.HypothesisID {
	return detection.HypothesisID{
		DetectionID: f.registry.DetectionIDForArrival(arid),
		ID:          f.registry.HypothesisIDForArrival(account, arid),
	}
}

func (f *apiFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	return serve(f.server, http.MethodPost, path, "application/json", bytes.NewReader(payload))
}

func serve(server *Server, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))

	return out
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int) ProblemDetail {
	t.Helper()

	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))

	problem := decodeBody[ProblemDetail](t, rec)
	assert.Equal(t, status, problem.Status)
	assert.Equal(t, middleware.ProblemType(status), problem.Type)
	assert.NotEmpty(t, problem.CorrelationID)
	assert.Equal(t, rec.Header().Get("X-Correlation-ID"), problem.CorrelationID)

	return problem
}

func TestNewServer_RequiresDetectionStore(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewServer(testServerConfig(), Dependencies{Logger: quietLogger()})
	require.ErrorIs(t, err, ErrMissingDetectionStore)
}

func TestHealthEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)

	t.Run("ping", func(t *testing.T) {
		rec := serve(f.server, http.MethodGet, "/ping", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pong", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	})

	t.Run("health", func(t *testing.T) {
		rec := serve(f.server, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "v0.0.0-test", rec.Header().Get("X-Sdbridge-Version"))

		health := decodeBody[HealthStatus](t, rec)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "sdbridge", health.ServiceName)
	})

	t.Run("metrics", func(t *testing.T) {
		serve(f.server, http.MethodGet, "/ping", "", nil)

		rec := serve(f.server, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "sdbridge_http_request_duration_seconds")
	})

	t.Run("not found", func(t *testing.T) {
		rec := serve(f.server, http.MethodGet, "/api/v1/arrivals", "", nil)
		problem := requireProblem(t, rec, http.StatusNotFound)
		assert.Equal(t, "/api/v1/arrivals", problem.Instance)
	})

	t.Run("query routes are POST only", func(t *testing.T) {
		rec := serve(f.server, http.MethodGet, "/api/v1/detections/by-ids", "", nil)
		requireProblem(t, rec, http.StatusNotFound)
	})
}

func TestReadyEndpoint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		checks   map[string]HealthChecker
		wantCode int
		wantBody string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantBody: "ready"},
		{
			name:     "all healthy",
			checks:   map[string]HealthChecker{"database": stubChecker{}, "segment cache": stubChecker{}},
			wantCode: http.StatusOK,
			wantBody: "ready",
		},
		{
			name: "database down",
			checks: map[string]HealthChecker{
				"database":      stubChecker{err: errors.New("connection refused")},
				"segment cache": stubChecker{},
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "database unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, tt.checks)

			rec := serve(f.server, http.MethodGet, "/ready", "", nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestDetectionsByIDs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)
	f.seed()

	detectionID := f.registry.DetectionIDForArrival(1)

	rec := f.post(t, "/api/v1/detections/by-ids", DetectionsByIDsRequest{
		IDs:   []uuid.UUID{detectionID, uuid.New()},
		Stage: "AL1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectionsResponse](t, rec)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, rec.Header().Get("X-Correlation-ID"), resp.CorrelationID)

	det := resp.Detections[0]
	assert.Equal(t, detectionID, det.ID)
	assert.Equal(t, "AS01", det.Station)
	require.Len(t, det.Hypotheses, 1, "the unchanged arrival is carried over")

	fromAssoc := det.Hypotheses[0]
	assert.Equal(t, "AL1", fromAssoc.Stage)
	require.NotNil(t, fromAssoc.ParentID)
	assert.Equal(t, f.hypothesis("soccpro", 1), *fromAssoc.ParentID)
	assert.Equal(t, "Pn", fromAssoc.Phase)
	require.NotNil(t, fromAssoc.Association)
	assert.Equal(t, int64(100), fromAssoc.Association.OriginID)

	t.Run("unknown stage", func(t *testing.T) {
		rec := f.post(t, "/api/v1/detections/by-ids", DetectionsByIDsRequest{
			IDs:   []uuid.UUID{detectionID},
			Stage: "AL9",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, mustField(t, rec, "detections"))
	})

	t.Run("empty ids", func(t *testing.T) {
		rec := f.post(t, "/api/v1/detections/by-ids", DetectionsByIDsRequest{IDs: []uuid.UUID{}, Stage: "AL1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, mustField(t, rec, "detections"))
	})
}

func TestDetectionsByStations(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)
	f.seed()

	rec := f.post(t, "/api/v1/detections/by-stations", DetectionsByStationsRequest{
		Stations:  []string{"ASAR"},
		StartTime: t0,
		EndTime:   t0.Add(time.Hour),
		Stage:     "AL1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectionsResponse](t, rec)
	require.Len(t, resp.Detections, 2)

	rec = f.post(t, "/api/v1/detections/by-stations", DetectionsByStationsRequest{
		Stations:    []string{"ASAR"},
		StartTime:   t0,
		EndTime:     t0.Add(time.Hour),
		Stage:       "AL1",
		ExcludedIDs: []uuid.UUID{f.registry.DetectionIDForArrival(1)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp = decodeBody[DetectionsResponse](t, rec)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "AS02", resp.Detections[0].Station)
}

func TestHypothesesByIDs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)
	f.seed()

	want := f.hypothesis("soccpro", 1)

	rec := f.post(t, "/api/v1/hypotheses/by-ids", HypothesesByIDsRequest{
		IDs: []detection.HypothesisID{want, {DetectionID: uuid.New(), ID: uuid.New()}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[HypothesesResponse](t, rec)
	require.Len(t, resp.Hypotheses, 1)
	assert.Equal(t, want, resp.Hypotheses[0].ID)
}

func TestFiltersByHypotheses(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)
	f.seed()

	h := f.hypothesis("al1", 1)

	rec := f.post(t, "/api/v1/filters/by-hypotheses", FiltersByHypothesesRequest{
		Hypotheses: []detection.HypothesisID{h, h},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Filters []struct {
			Hypothesis detection.HypothesisID `json:"hypothesis"`
			Filters    map[string]int64       `json:"filters"`
		} `json:"filters"`
		Partial bool `json:"partial"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.False(t, resp.Partial)
	require.Len(t, resp.Filters, 1)
	assert.Equal(t, h, resp.Filters[0].Hypothesis)
	assert.Equal(t, map[string]int64{"DETECTION": 7, "AMPLITUDE": 11}, resp.Filters[0].Filters)

	t.Run("partial", func(t *testing.T) {
		rec := f.post(t, "/api/v1/filters/by-hypotheses", FiltersByHypothesesRequest{
			Hypotheses: []detection.HypothesisID{h, {DetectionID: uuid.New(), ID: uuid.New()}},
		})
		require.Equal(t, http.StatusPartialContent, rec.Code, rec.Body.String())

		resp := decodeBody[FiltersResponse](t, rec)
		assert.True(t, resp.Partial)
		assert.Len(t, resp.Filters, 1)
	})
}

func TestSegmentLookup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)
	f.seed()

	rec := f.post(t, "/api/v1/detections/by-ids", DetectionsByIDsRequest{
		IDs:   []uuid.UUID{f.registry.DetectionIDForArrival(1)},
		Stage: "AUTO_NETWORK",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectionsResponse](t, rec)
	require.Len(t, resp.Detections, 1)
	require.NotEmpty(t, resp.Detections[0].Hypotheses)

	segment := resp.Detections[0].Hypotheses[0].Segment

	query := url.Values{
		"station":   {segment.Station},
		"channel":   {segment.Channel},
		"startTime": {segment.StartTime.Format(time.RFC3339Nano)},
		"endTime":   {segment.EndTime.Format(time.RFC3339Nano)},
	}

	rec = serve(f.server, http.MethodGet, "/api/v1/segments?"+query.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	found := decodeBody[SegmentResponse](t, rec)
	assert.Equal(t, []int64{1000}, found.WaveformIDs)

	t.Run("unknown segment", func(t *testing.T) {
		query.Set("station", "ZZ99")

		rec := serve(f.server, http.MethodGet, "/api/v1/segments?"+query.Encode(), "", nil)
		requireProblem(t, rec, http.StatusNotFound)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		for _, raw := range []string{
			"channel=SHZ&startTime=2024-01-01T00:00:00Z&endTime=2024-01-01T01:00:00Z",
			"station=AS01&channel=SHZ&startTime=yesterday&endTime=2024-01-01T01:00:00Z",
			"station=AS01&channel=SHZ&startTime=2024-01-01T01:00:00Z&endTime=2024-01-01T00:00:00Z",
		} {
			rec := serve(f.server, http.MethodGet, "/api/v1/segments?"+raw, "", nil)
			requireProblem(t, rec, http.StatusBadRequest)
		}
	})
}

func TestQueryValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newAPIFixture(t, nil)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantStatus  int
		wantDetail  string
	}{
		{
			name:        "wrong content type",
			path:        "/api/v1/detections/by-ids",
			contentType: "text/plain",
			body:        `{"ids":[],"stage":"AL1"}`,
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:        "empty body",
			path:        "/api/v1/detections/by-ids",
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "empty",
		},
		{
			name:        "malformed json",
			path:        "/api/v1/hypotheses/by-ids",
			contentType: "application/json",
			body:        `{"ids":`,
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "Invalid JSON",
		},
		{
			name:        "unknown field",
			path:        "/api/v1/detections/by-ids",
			contentType: "application/json",
			body:        `{"ids":[],"stage":"AL1","limit":5}`,
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "unknown field",
		},
		{
			name:        "null ids",
			path:        "/api/v1/detections/by-ids",
			contentType: "application/json",
			body:        `{"stage":"AL1"}`,
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "ids: required",
		},
		{
			name:        "missing stage",
			path:        "/api/v1/detections/by-ids",
			contentType: "application/json",
			body:        `{"ids":[]}`,
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "stage: required",
		},
		{
			name:        "inverted window",
			path:        "/api/v1/detections/by-stations",
			contentType: "application/json",
			body: `{"stations":["AS01"],"stage":"AL1",` +
				`"startTime":"2024-01-01T01:00:00Z","endTime":"2024-01-01T00:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "endTime: gtefield=StartTime",
		},
		{
			name:        "no stations",
			path:        "/api/v1/detections/by-stations",
			contentType: "application/json",
			body: `{"stations":[],"stage":"AL1",` +
				`"startTime":"2024-01-01T00:00:00Z","endTime":"2024-01-01T01:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "stations: min=1",
		},
		{
			name:        "null hypotheses",
			path:        "/api/v1/filters/by-hypotheses",
			contentType: "application/json",
			body:        `{"hypotheses":null}`,
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "hypotheses: required",
		},
		{
			name:        "batch too large",
			path:        "/api/v1/detections/by-ids",
			contentType: "application/json",
			body:        fmt.Sprintf(`{"ids":[%s],"stage":"AL1"}`, uuidList(11)),
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "ids has 11 entries, the maximum is 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(f.server, http.MethodPost, tt.path, tt.contentType, strings.NewReader(tt.body))

			problem := requireProblem(t, rec, tt.wantStatus)
			assert.Contains(t, problem.Detail, tt.wantDetail)
		})
	}
}

func TestQuery_PayloadTooLarge(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testServerConfig()
	cfg.MaxRequestSize = 64

	server, err := NewServer(cfg, Dependencies{Detections: failingStore{}, Logger: quietLogger()})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"ids":[%s],"stage":"AL1"}`, uuidList(5))

	rec := serve(server, http.MethodPost, "/api/v1/detections/by-ids", "application/json", strings.NewReader(body))
	requireProblem(t, rec, http.StatusRequestEntityTooLarge)
}

func TestQuery_BridgeErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "invalid argument",
			err:        fmt.Errorf("%w: ids cannot be nil", bridge.ErrInvalidArgument),
			wantStatus: http.StatusBadRequest,
			wantDetail: "ids cannot be nil",
		},
		{
			name:       "unsupported filter usage",
			err:        fmt.Errorf("%w: BEAM", bridge.ErrUnsupportedFilterUsage),
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "BEAM",
		},
		{
			name:       "legacy store failure",
			err:        errors.New("pq: connection reset by peer"),
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Failed to query the legacy detection store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(testServerConfig(), Dependencies{
				Detections: failingStore{err: tt.err},
				Logger:     quietLogger(),
			})
			require.NoError(t, err)

			body := `{"hypotheses":[]}`

			rec := serve(server, http.MethodPost, "/api/v1/filters/by-hypotheses", "application/json",
				strings.NewReader(body))

			problem := requireProblem(t, rec, tt.wantStatus)
			assert.Contains(t, problem.Detail, tt.wantDetail)
			assert.NotContains(t, problem.Detail, "pq:", "internal errors are not leaked")
		})
	}
}

func TestServer_WithoutSegmentIndex(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server, err := NewServer(testServerConfig(), Dependencies{Detections: failingStore{}, Logger: quietLogger()})
	require.NoError(t, err)

	rec := serve(server, http.MethodGet, "/api/v1/segments?station=AS01", "", nil)
	requireProblem(t, rec, http.StatusNotFound)
}

func TestServer_RateLimited(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := middleware.NewInMemoryRateLimiter(&middleware.Config{
		GlobalRPS:      100,
		ClientRPS:      1,
		ClientBurst:    1,
		AnonymousRPS:   1,
		AnonymousBurst: 1,
	})
	t.Cleanup(func() { _ = limiter.Close() })

	server, err := NewServer(testServerConfig(), Dependencies{
		Detections:  failingStore{},
		RateLimiter: limiter,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/ping", "", nil).Code)

	rec := serve(server, http.MethodGet, "/ping", "", nil)
	requireProblem(t, rec, http.StatusTooManyRequests)
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, field string) string {
	t.Helper()

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	raw, ok := body[field]
	require.True(t, ok, "missing field %q", field)

	return string(raw)
}

func uuidList(n int) string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = `"` + uuid.NewString() + `"`
	}

	return strings.Join(ids, ",")
}
