package bridge

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
)

type (
	// stageRecords are the legacy rows of one stage grouped by arid.
	stageRecords struct {
		stage      stage.Stage
		account    string
		arrivals   map[int64]legacy.Arrival
		assocs     map[int64][]legacy.Assoc
		amplitudes map[int64][]legacy.Amplitude
	}

	// aggregate is the input of the synthesizer for one stage. previous is nil when the
	// stage has no predecessor; it is non-nil but possibly empty when the predecessor
	// exists but has no connectors or no matching rows.
	aggregate struct {
		current  stageRecords
		previous *stageRecords
	}
)

func newStageRecords(c stageConnectors) stageRecords {
	return stageRecords{
		stage:      c.stage,
		account:    c.account,
		arrivals:   make(map[int64]legacy.Arrival),
		assocs:     make(map[int64][]legacy.Assoc),
		amplitudes: make(map[int64][]legacy.Amplitude),
	}
}

// arids returns the arrival ids of the stage in ascending order.
func (s *stageRecords) arids() []int64 {
	return slices.Sorted(maps.Keys(s.arrivals))
}

// hasArrival reports whether the stage holds arid. Safe on a nil receiver.
func (s *stageRecords) hasArrival(arid int64) bool {
	if s == nil {
		return false
	}

	_, ok := s.arrivals[arid]

	return ok
}

// hasAssoc reports whether the stage holds the exact (arid, orid) association.
func (s *stageRecords) hasAssoc(key legacy.AridOridKey) bool {
	if s == nil {
		return false
	}

	return slices.ContainsFunc(s.assocs[key.ArrivalID], func(a legacy.Assoc) bool {
		return a.Key == key
	})
}

// aggregateByIDs reads the current-stage arrivals for arids and aggregates around them.
func (r *Repository) aggregateByIDs(ctx context.Context, cur stageConnectors, arids []int64) (aggregate, error) {
	if cur.arrival == nil {
		r.logger.Warn("No arrival connector for stage", slog.String("stage", cur.stage.Name))

		return aggregate{current: newStageRecords(cur)}, nil
	}

	var arrivals []legacy.Arrival

	if len(arids) > 0 {
		var err error

		arrivals, err = cur.arrival.FindArrivalsByIDs(ctx, arids)
		if err != nil {
			return aggregate{}, fmt.Errorf("stage %s arrivals: %w", cur.stage.Name, err)
		}
	}

	return r.aggregateArrivals(ctx, cur, arrivals)
}

// aggregateArrivals groups the current-stage associations and amplitudes of arrivals and,
// when the stage has a predecessor, the predecessor's arrivals and associations restricted
// to the same arids. Current and previous stage reads run concurrently.
func (r *Repository) aggregateArrivals(
	ctx context.Context,
	cur stageConnectors,
	arrivals []legacy.Arrival,
) (aggregate, error) {
	agg := aggregate{current: newStageRecords(cur)}
	for _, a := range arrivals {
		agg.current.arrivals[a.ID] = a
	}

	prev, hasPrev := r.connectors(cur.stage, stage.Previous)
	if hasPrev {
		records := newStageRecords(prev)
		agg.previous = &records
	}

	arids := agg.current.arids()
	if len(arids) == 0 {
		return agg, nil
	}

	var (
		assocs     []legacy.Assoc
		amplitudes []legacy.Amplitude
		prevRows   stageRows
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cur.assoc == nil {
			r.logger.Debug("No assoc connector for stage", slog.String("stage", cur.stage.Name))

			return nil
		}

		var err error

		assocs, err = cur.assoc.FindAssocsByArrivalIDs(gctx, arids)
		if err != nil {
			return fmt.Errorf("stage %s assocs: %w", cur.stage.Name, err)
		}

		return nil
	})

	g.Go(func() error {
		if cur.amplitude == nil {
			r.logger.Debug("No amplitude connector for stage", slog.String("stage", cur.stage.Name))

			return nil
		}

		var err error

		amplitudes, err = cur.amplitude.FindAmplitudesByArrivalIDs(gctx, arids)
		if err != nil {
			return fmt.Errorf("stage %s amplitudes: %w", cur.stage.Name, err)
		}

		return nil
	})

	if hasPrev {
		g.Go(func() error {
			var err error

			prevRows, err = fetchPreviousStage(gctx, prev, arids)

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return aggregate{}, err
	}

	for _, a := range assocs {
		agg.current.assocs[a.Key.ArrivalID] = append(agg.current.assocs[a.Key.ArrivalID], a)
	}

	for _, a := range amplitudes {
		agg.current.amplitudes[a.ArrivalID] = append(agg.current.amplitudes[a.ArrivalID], a)
	}

	if hasPrev {
		for _, a := range prevRows.arrivals {
			agg.previous.arrivals[a.ID] = a
		}

		for _, a := range prevRows.assocs {
			agg.previous.assocs[a.Key.ArrivalID] = append(agg.previous.assocs[a.Key.ArrivalID], a)
		}
	}

	sortAssocs(agg.current.assocs)

	return agg, nil
}

type stageRows struct {
	arrivals []legacy.Arrival
	assocs   []legacy.Assoc
}

// fetchPreviousStage reads predecessor arrivals for arids, then predecessor associations
// for the arids it actually holds.
func fetchPreviousStage(ctx context.Context, prev stageConnectors, arids []int64) (stageRows, error) {
	var rows stageRows

	if prev.arrival == nil {
		return rows, nil
	}

	arrivals, err := prev.arrival.FindArrivalsByIDs(ctx, arids)
	if err != nil {
		return rows, fmt.Errorf("stage %s arrivals: %w", prev.stage.Name, err)
	}

	rows.arrivals = arrivals

	if prev.assoc == nil || len(arrivals) == 0 {
		return rows, nil
	}

	found := make([]int64, 0, len(arrivals))
	for _, a := range arrivals {
		found = append(found, a.ID)
	}

	assocs, err := prev.assoc.FindAssocsByArrivalIDs(ctx, found)
	if err != nil {
		return rows, fmt.Errorf("stage %s assocs: %w", prev.stage.Name, err)
	}

	rows.assocs = assocs

	return rows, nil
}

func sortAssocs(byArid map[int64][]legacy.Assoc) {
	for _, assocs := range byArid {
		slices.SortFunc(assocs, func(a, b legacy.Assoc) int {
			return cmp.Compare(a.Key.OriginID, b.Key.OriginID)
		})
	}
}

// selection is the set of hypotheses requested from one account: from-arrival hypotheses
// by arid and from-association hypotheses by (arid, orid). A nil selection selects all.
type selection struct {
	arrivals map[int64]struct{}
	assocs   map[legacy.AridOridKey]struct{}
}

func newSelection() *selection {
	return &selection{
		arrivals: make(map[int64]struct{}),
		assocs:   make(map[legacy.AridOridKey]struct{}),
	}
}

func (s *selection) add(k hypothesisKey) {
	if k.assoc {
		s.assocs[k.key] = struct{}{}

		return
	}

	s.arrivals[k.key.ArrivalID] = struct{}{}
}

// arids returns every arid the selection touches in ascending order.
func (s *selection) arids() []int64 {
	set := maps.Clone(s.arrivals)
	for key := range s.assocs {
		set[key.ArrivalID] = struct{}{}
	}

	return slices.Sorted(maps.Keys(set))
}

// assocKeys returns the selected association keys ordered by arid then orid.
func (s *selection) assocKeys() []legacy.AridOridKey {
	return slices.SortedFunc(maps.Keys(s.assocs), func(a, b legacy.AridOridKey) int {
		return cmp.Or(cmp.Compare(a.ArrivalID, b.ArrivalID), cmp.Compare(a.OriginID, b.OriginID))
	})
}

func (s *selection) includesArrival(arid int64) bool {
	if s == nil {
		return true
	}

	_, ok := s.arrivals[arid]

	return ok
}

func (s *selection) includesAssoc(key legacy.AridOridKey) bool {
	if s == nil {
		return true
	}

	_, ok := s.assocs[key]

	return ok
}

// aggregateSelection aggregates the rows needed to build the selected hypotheses of one
// stage. Every association of an arid whose from-arrival hypothesis is selected is read,
// since classifying the arrival depends on them. The other selected associations and the
// predecessor associations that may parent them are read by exact key.
func (r *Repository) aggregateSelection(ctx context.Context, cur stageConnectors, sel *selection) (aggregate, error) {
	agg := aggregate{current: newStageRecords(cur)}

	prev, hasPrev := r.connectors(cur.stage, stage.Previous)
	if hasPrev {
		records := newStageRecords(prev)
		agg.previous = &records
	}

	if cur.arrival == nil {
		r.logger.Warn("No arrival connector for stage", slog.String("stage", cur.stage.Name))

		return agg, nil
	}

	arrivals, err := cur.arrival.FindArrivalsByIDs(ctx, sel.arids())
	if err != nil {
		return aggregate{}, fmt.Errorf("stage %s arrivals: %w", cur.stage.Name, err)
	}

	for _, a := range arrivals {
		agg.current.arrivals[a.ID] = a
	}

	arids := agg.current.arids()
	if len(arids) == 0 {
		return agg, nil
	}

	var byArrival []int64

	for _, arid := range arids {
		if sel.includesArrival(arid) {
			byArrival = append(byArrival, arid)
		}
	}

	var keys, byKey []legacy.AridOridKey

	for _, key := range sel.assocKeys() {
		if !agg.current.hasArrival(key.ArrivalID) {
			continue
		}

		keys = append(keys, key)

		if !sel.includesArrival(key.ArrivalID) {
			byKey = append(byKey, key)
		}
	}

	var (
		arrivalAssocs []legacy.Assoc
		keyedAssocs   []legacy.Assoc
		amplitudes    []legacy.Amplitude
		prevRows      stageRows
	)

	g, gctx := errgroup.WithContext(ctx)

	if cur.assoc != nil {
		if len(byArrival) > 0 {
			g.Go(func() error {
				var err error

				arrivalAssocs, err = cur.assoc.FindAssocsByArrivalIDs(gctx, byArrival)
				if err != nil {
					return fmt.Errorf("stage %s assocs: %w", cur.stage.Name, err)
				}

				return nil
			})
		}

		if len(byKey) > 0 {
			g.Go(func() error {
				var err error

				keyedAssocs, err = cur.assoc.FindAssocsByKeys(gctx, byKey)
				if err != nil {
					return fmt.Errorf("stage %s assocs: %w", cur.stage.Name, err)
				}

				return nil
			})
		}
	}

	if cur.amplitude != nil {
		g.Go(func() error {
			var err error

			amplitudes, err = cur.amplitude.FindAmplitudesByArrivalIDs(gctx, arids)
			if err != nil {
				return fmt.Errorf("stage %s amplitudes: %w", cur.stage.Name, err)
			}

			return nil
		})
	}

	if hasPrev {
		g.Go(func() error {
			var err error

			prevRows, err = fetchPreviousKeys(gctx, prev, arids, keys)

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return aggregate{}, err
	}

	for _, a := range slices.Concat(arrivalAssocs, keyedAssocs) {
		agg.current.assocs[a.Key.ArrivalID] = append(agg.current.assocs[a.Key.ArrivalID], a)
	}

	for _, a := range amplitudes {
		agg.current.amplitudes[a.ArrivalID] = append(agg.current.amplitudes[a.ArrivalID], a)
	}

	if hasPrev {
		for _, a := range prevRows.arrivals {
			agg.previous.arrivals[a.ID] = a
		}

		for _, a := range prevRows.assocs {
			agg.previous.assocs[a.Key.ArrivalID] = append(agg.previous.assocs[a.Key.ArrivalID], a)
		}
	}

	sortAssocs(agg.current.assocs)

	return agg, nil
}

// fetchPreviousKeys reads predecessor arrivals for arids and the predecessor associations
// with exactly the given keys.
func fetchPreviousKeys(
	ctx context.Context,
	prev stageConnectors,
	arids []int64,
	keys []legacy.AridOridKey,
) (stageRows, error) {
	var rows stageRows

	if prev.arrival == nil {
		return rows, nil
	}

	arrivals, err := prev.arrival.FindArrivalsByIDs(ctx, arids)
	if err != nil {
		return rows, fmt.Errorf("stage %s arrivals: %w", prev.stage.Name, err)
	}

	rows.arrivals = arrivals

	if prev.assoc == nil || len(keys) == 0 {
		return rows, nil
	}

	assocs, err := prev.assoc.FindAssocsByKeys(ctx, keys)
	if err != nil {
		return rows, fmt.Errorf("stage %s assocs: %w", prev.stage.Name, err)
	}

	rows.assocs = assocs

	return rows, nil
}
