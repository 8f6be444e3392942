// Package bridge reconstructs versioned signal detection hypotheses from the per-stage
// snapshots of a legacy detection store.
//
// The Repository is a stateless request pipeline: every public operation resolves the
// stage topology, aggregates the legacy rows it needs in batches, resolves waveform
// sources and amplitudes, and then runs the provenance decision tables that decide each
// hypothesis's parent. The identity registry is the only shared mutable state.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/identity"
	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
)

const tracerName = "github.com/correlator-io/sdbridge/internal/bridge"

var (
	// ErrInvalidArgument is returned for input contract violations, before any legacy
	// store call is made.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedFilterUsage is returned when a legacy dynpars group name is outside the
	// filter usage vocabulary. It aborts the whole batch.
	ErrUnsupportedFilterUsage = errors.New("unsupported filter definition usage")

	// ErrMissingDependency is returned by NewRepository when a required collaborator is nil.
	ErrMissingDependency = errors.New("missing repository dependency")
)

type (
	// Repository serves signal detections and hypotheses bridged from the legacy store.
	Repository struct {
		topology  *stage.Topology
		accounts  AccountOpener
		registry  *identity.Registry
		assembler detection.Assembler
		segments  SegmentCache
		logger    *slog.Logger
		tracer    trace.Tracer
	}

	// Option configures optional Repository behavior.
	Option func(*Repository)
)

// WithLogger overrides the default JSON logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithAssembler overrides detection.DefaultAssembler.
func WithAssembler(a detection.Assembler) Option {
	return func(r *Repository) {
		r.assembler = a
	}
}

// WithSegmentCache sets the channel segment index. Defaults to a MemorySegmentCache.
func WithSegmentCache(c SegmentCache) Option {
	return func(r *Repository) {
		r.segments = c
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Repository) {
		r.tracer = t
	}
}

// NewRepository creates a repository over the stage topology, the legacy accounts and
// the identity registry.
func NewRepository(
	topology *stage.Topology,
	accounts AccountOpener,
	registry *identity.Registry,
	opts ...Option,
) (*Repository, error) {
	switch {
	case topology == nil:
		return nil, fmt.Errorf("%w: topology", ErrMissingDependency)
	case accounts == nil:
		return nil, fmt.Errorf("%w: accounts", ErrMissingDependency)
	case registry == nil:
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	}

	r := &Repository{
		topology:  topology,
		accounts:  accounts,
		registry:  registry,
		assembler: detection.DefaultAssembler{},
		segments:  NewMemorySegmentCache(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// FindByIDs returns the signal detections with the given ids as seen from stage s.
//
// Detection ids that were never issued by the registry are ignored. Arrivals present only
// in the predecessor stage are built with the predecessor as their stage. An unknown stage
// yields an empty result.
func (r *Repository) FindByIDs(
	ctx context.Context,
	ids []uuid.UUID,
	s stage.Stage,
) (dets []detection.SignalDetection, err error) {
	ctx, span := r.tracer.Start(ctx, "bridge.FindByIDs", trace.WithAttributes(
		attribute.String("stage", s.Name),
		attribute.Int("ids", len(ids))))
	defer func() { endSpan(span, err) }()
	defer r.flushIdentities(ctx)

	if ids == nil {
		return nil, fmt.Errorf("%w: ids cannot be nil", ErrInvalidArgument)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("%w: stage name cannot be empty", ErrInvalidArgument)
	}

	if !r.knownStage(s) {
		return []detection.SignalDetection{}, nil
	}

	aridSet := make(map[int64]struct{}, len(ids))

	for _, id := range ids {
		arid, ok := r.registry.ArrivalForDetection(ctx, id)
		if !ok {
			r.logger.Debug("Detection id does not map to an arrival", slog.String("id", id.String()))
			arrivalsSkipped.WithLabelValues(skipUnresolvableID).Inc()

			continue
		}

		aridSet[arid] = struct{}{}
	}

	arids := slices.Sorted(maps.Keys(aridSet))

	cur, _ := r.connectors(s, stage.Current)

	agg, err := r.aggregateByIDs(ctx, cur, arids)
	if err != nil {
		return nil, err
	}

	dets, err = r.buildDetections(ctx, cur, agg)
	if err != nil {
		return nil, err
	}

	var previousOnly []int64

	for _, arid := range arids {
		if !agg.current.hasArrival(arid) {
			previousOnly = append(previousOnly, arid)
		}
	}

	if len(previousOnly) == 0 {
		return dets, nil
	}

	prev, ok := r.connectors(s, stage.Previous)
	if !ok {
		return dets, nil
	}

	prevAgg, err := r.aggregateByIDs(ctx, prev, previousOnly)
	if err != nil {
		return nil, err
	}

	more, err := r.buildDetections(ctx, prev, prevAgg)
	if err != nil {
		return nil, err
	}

	return append(dets, more...), nil
}

// FindHypothesesByIDs returns the hypotheses with the given ids. Each id is decomposed to
// its legacy (account, arid[, orid]) key; ids that cannot be decomposed or whose account
// is not a configured stage are skipped. Associations are read by their exact keys unless
// the from-arrival hypothesis of the same arrival is also requested, and only the
// requested hypotheses are assembled.
func (r *Repository) FindHypothesesByIDs(
	ctx context.Context,
	ids []detection.HypothesisID,
) (hyps []detection.Hypothesis, err error) {
	ctx, span := r.tracer.Start(ctx, "bridge.FindHypothesesByIDs", trace.WithAttributes(
		attribute.Int("ids", len(ids))))
	defer func() { endSpan(span, err) }()
	defer r.flushIdentities(ctx)

	if ids == nil {
		return nil, fmt.Errorf("%w: ids cannot be nil", ErrInvalidArgument)
	}

	byAccount := make(map[string]*selection)

	for _, id := range ids {
		key, ok := r.legacyHypothesisKey(ctx, id.ID)
		if !ok {
			r.logger.Debug("Hypothesis id does not map to a legacy key", slog.String("id", id.ID.String()))
			arrivalsSkipped.WithLabelValues(skipUnresolvableID).Inc()

			continue
		}

		sel, ok := byAccount[key.account]
		if !ok {
			sel = newSelection()
			byAccount[key.account] = sel
		}

		sel.add(key)
	}

	hyps = []detection.Hypothesis{}

	for _, account := range slices.Sorted(maps.Keys(byAccount)) {
		s, ok := r.topology.StageForAccount(account)
		if !ok {
			r.logger.Warn("Legacy account does not map to a known stage", slog.String("account", account))
			arrivalsSkipped.WithLabelValues(skipUnknownStage).Inc()

			continue
		}

		cur, _ := r.connectors(s, stage.Current)
		sel := byAccount[account]

		agg, err := r.aggregateSelection(ctx, cur, sel)
		if err != nil {
			return nil, err
		}

		waveforms, err := r.resolveWaveforms(ctx, cur, agg.current.arrivals)
		if err != nil {
			return nil, err
		}

		for _, res := range r.synthesize(ctx, agg, waveforms, sel) {
			hyps = append(hyps, res.hypotheses...)
		}
	}

	return hyps, nil
}

// FindByStationsAndTime returns the signal detections of stage s whose arrivals lie on the
// given stations in [start-lead, end+lag]. Stations are reference stations resolved to
// station codes through the site table when the stage has one; excluded detections are
// filtered out by the arrival query. excluded may be nil.
func (r *Repository) FindByStationsAndTime(
	ctx context.Context,
	stations []string,
	start, end time.Time,
	s stage.Stage,
	excluded []uuid.UUID,
) (dets []detection.SignalDetection, err error) {
	ctx, span := r.tracer.Start(ctx, "bridge.FindByStationsAndTime", trace.WithAttributes(
		attribute.String("stage", s.Name),
		attribute.StringSlice("stations", stations),
		attribute.String("start", start.UTC().Format(time.RFC3339)),
		attribute.String("end", end.UTC().Format(time.RFC3339))))
	defer func() { endSpan(span, err) }()
	defer r.flushIdentities(ctx)

	switch {
	case stations == nil:
		return nil, fmt.Errorf("%w: stations cannot be nil", ErrInvalidArgument)
	case start.IsZero() || end.IsZero():
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidArgument)
	case start.After(end):
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidArgument, start, end)
	case s.Name == "":
		return nil, fmt.Errorf("%w: stage name cannot be empty", ErrInvalidArgument)
	}

	if !r.knownStage(s) {
		return []detection.SignalDetection{}, nil
	}

	cur, _ := r.connectors(s, stage.Current)
	if cur.arrival == nil || len(stations) == 0 {
		if cur.arrival == nil {
			r.logger.Warn("No arrival connector for stage", slog.String("stage", s.Name))
		}

		return []detection.SignalDetection{}, nil
	}

	staCodes, err := r.stationCodes(ctx, cur, stations, start, end)
	if err != nil {
		return nil, err
	}

	if len(staCodes) == 0 {
		return []detection.SignalDetection{}, nil
	}

	excludedArids := make([]int64, 0, len(excluded))

	for _, id := range excluded {
		if arid, ok := r.registry.ArrivalForDetection(ctx, id); ok {
			excludedArids = append(excludedArids, arid)
		}
	}

	arrivals, err := cur.arrival.FindArrivals(ctx, legacy.ArrivalTimeQuery{
		Stations: staCodes,
		Excluded: excludedArids,
		Start:    start,
		End:      end,
		Lead:     r.topology.MeasuredWaveformLead(),
		Lag:      r.topology.MeasuredWaveformLag(),
	})
	if err != nil {
		return nil, fmt.Errorf("stage %s arrivals by time: %w", s.Name, err)
	}

	agg, err := r.aggregateArrivals(ctx, cur, arrivals)
	if err != nil {
		return nil, err
	}

	return r.buildDetections(ctx, cur, agg)
}

// stationCodes maps reference stations to the station codes of their sites operating in
// [start, end]. Without a site connector the names are used as station codes directly.
func (r *Repository) stationCodes(
	ctx context.Context,
	c stageConnectors,
	stations []string,
	start, end time.Time,
) ([]string, error) {
	if c.site == nil {
		return slices.Compact(slices.Sorted(slices.Values(stations))), nil
	}

	sites, err := c.site.FindSitesByReferenceStations(ctx, stations, start, end)
	if err != nil {
		return nil, fmt.Errorf("stage %s sites: %w", c.stage.Name, err)
	}

	out := make([]string, 0, len(sites))
	for _, site := range sites {
		out = append(out, site.Station)
	}

	slices.Sort(out)

	return slices.Compact(out), nil
}

// buildDetections resolves waveforms, synthesizes hypotheses and groups them per arrival.
func (r *Repository) buildDetections(
	ctx context.Context,
	c stageConnectors,
	agg aggregate,
) ([]detection.SignalDetection, error) {
	waveforms, err := r.resolveWaveforms(ctx, c, agg.current.arrivals)
	if err != nil {
		return nil, err
	}

	results := r.synthesize(ctx, agg, waveforms, nil)
	dets := make([]detection.SignalDetection, 0, len(results))

	for _, res := range results {
		dets = append(dets, detection.SignalDetection{
			ID:                     res.hypotheses[0].ID.DetectionID,
			Station:                res.arrival.Station,
			MonitoringOrganization: r.topology.MonitoringOrganization(),
			Hypotheses:             res.hypotheses,
		})
	}

	return dets, nil
}

// hypothesisKey is the legacy key a hypothesis id decomposes to. assoc is false for
// from-arrival hypotheses, whose OriginID is zero.
type hypothesisKey struct {
	account string
	key     legacy.AridOridKey
	assoc   bool
}

// legacyHypothesisKey recovers the legacy key of a hypothesis id, trying the from-arrival
// form first and the from-association form second.
func (r *Repository) legacyHypothesisKey(ctx context.Context, id uuid.UUID) (hypothesisKey, bool) {
	if key, ok := r.registry.ArrivalKey(ctx, id); ok {
		return hypothesisKey{account: key.Account, key: legacy.AridOridKey{ArrivalID: key.ArrivalID}}, true
	}

	if key, ok := r.registry.AssocKey(ctx, id); ok {
		return hypothesisKey{
			account: key.Account,
			key:     legacy.AridOridKey{ArrivalID: key.ArrivalID, OriginID: key.OriginID},
			assoc:   true,
		}, true
	}

	return hypothesisKey{}, false
}

// flushIdentities persists the ids issued while answering a query. Failures are counted
// by the registry and the ids stay queued for the next query.
func (r *Repository) flushIdentities(ctx context.Context) {
	if err := r.registry.Flush(ctx); err != nil {
		r.logger.Warn("Failed to persist issued identifiers", slog.String("error", err.Error()))
	}
}

func (r *Repository) knownStage(s stage.Stage) bool {
	if r.topology.Contains(s) {
		return true
	}

	r.logger.Warn("Stage does not exist in bridge definition", slog.String("stage", s.Name))
	arrivalsSkipped.WithLabelValues(skipUnknownStage).Inc()

	return false
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
