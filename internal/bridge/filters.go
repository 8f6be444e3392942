package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
)

// FindFilterRecordsForHypotheses resolves the legacy filter ids recorded per usage for
// each hypothesis.
//
// The result is partial when a hypothesis id cannot be decomposed to a legacy key, when
// its account does not map to a stage, or when the stage lacks any of the arrival_dynpars,
// amplitude or ampdynpars connectors. A group name outside the usage vocabulary aborts the
// whole batch with ErrUnsupportedFilterUsage. An empty hypotheses slice yields an empty,
// complete result with Partial false.
func (r *Repository) FindFilterRecordsForHypotheses(
	ctx context.Context,
	hypotheses []detection.HypothesisID,
) (result BatchResult[FilterTable], err error) {
	ctx, span := r.tracer.Start(ctx, "bridge.FindFilterRecordsForHypotheses", trace.WithAttributes(
		attribute.Int("hypotheses", len(hypotheses))))
	defer func() { endSpan(span, err) }()

	if hypotheses == nil {
		return BatchResult[FilterTable]{}, fmt.Errorf("%w: hypotheses cannot be nil", ErrInvalidArgument)
	}

	result = BatchResult[FilterTable]{Results: FilterTable{}}

	byAccount := make(map[string]map[int64][]detection.HypothesisID)
	seen := make(map[detection.HypothesisID]struct{}, len(hypotheses))

	for _, h := range hypotheses {
		if _, dup := seen[h]; dup {
			continue
		}

		seen[h] = struct{}{}

		key, ok := r.legacyHypothesisKey(ctx, h.ID)
		if !ok {
			r.logger.Warn("Legacy account info not found for hypothesis, no filter information will be resolved",
				slog.String("hypothesis", h.ID.String()))
			arrivalsSkipped.WithLabelValues(skipUnresolvableID).Inc()

			result.Partial = true

			continue
		}

		if byAccount[key.account] == nil {
			byAccount[key.account] = make(map[int64][]detection.HypothesisID)
		}

		arid := key.key.ArrivalID
		byAccount[key.account][arid] = append(byAccount[key.account][arid], h)
	}

	for _, account := range slices.Sorted(maps.Keys(byAccount)) {
		group, err := r.filterGroup(ctx, account, byAccount[account])
		if err != nil {
			return BatchResult[FilterTable]{}, err
		}

		result = MergeFilterTables(result, group)
	}

	if result.Partial {
		partialResults.WithLabelValues("find_filter_records").Inc()
	}

	return result, nil
}

// filterGroup resolves the filter records of the hypotheses of one account.
func (r *Repository) filterGroup(
	ctx context.Context,
	account string,
	byArid map[int64][]detection.HypothesisID,
) (BatchResult[FilterTable], error) {
	s, ok := r.topology.StageForAccount(account)
	if !ok {
		r.logger.Warn("Legacy account does not map to a known stage", slog.String("account", account))

		return BatchResult[FilterTable]{Results: FilterTable{}, Partial: true}, nil
	}

	c, _ := r.connectors(s, stage.Current)
	arids := slices.Sorted(maps.Keys(byArid))
	table := FilterTable{}

	if c.arrivalDynPars != nil {
		rows, err := c.arrivalDynPars.FindFilterArrivalDynParsByIDs(ctx, arids)
		if err != nil {
			return BatchResult[FilterTable]{}, fmt.Errorf("stage %s arrival dynpars: %w", s.Name, err)
		}

		for _, row := range rows {
			usage, err := parseFilterUsage(row.GroupName)
			if err != nil {
				return BatchResult[FilterTable]{}, err
			}

			for _, h := range byArid[row.ArrivalID] {
				table.Put(h, usage, row.Value)
			}
		}
	}

	if c.amplitude != nil && c.ampDynPars != nil {
		amplitudes, err := c.amplitude.FindAmplitudesByArrivalIDs(ctx, arids)
		if err != nil {
			return BatchResult[FilterTable]{}, fmt.Errorf("stage %s amplitudes: %w", s.Name, err)
		}

		aridByAmpid := preferredAmplitudes(amplitudes)

		rows, err := c.ampDynPars.FindFilterAmplitudeDynParsByIDs(ctx, slices.Sorted(maps.Keys(aridByAmpid)))
		if err != nil {
			return BatchResult[FilterTable]{}, fmt.Errorf("stage %s amplitude dynpars: %w", s.Name, err)
		}

		for _, row := range rows {
			usage, err := parseFilterUsage(row.GroupName)
			if err != nil {
				return BatchResult[FilterTable]{}, err
			}

			arid, ok := aridByAmpid[row.AmplitudeID]
			if !ok {
				continue
			}

			for _, h := range byArid[arid] {
				table.Put(h, usage, row.Value)
			}
		}
	}

	partial := c.arrivalDynPars == nil || c.amplitude == nil || c.ampDynPars == nil
	if partial {
		r.logger.Debug("Filter sources incomplete for stage",
			slog.String("stage", s.Name),
			slog.Bool("arrival_dynpars", c.arrivalDynPars != nil),
			slog.Bool("amplitude", c.amplitude != nil),
			slog.Bool("ampdynpars", c.ampDynPars != nil))
	}

	return BatchResult[FilterTable]{Results: table, Partial: partial}, nil
}

// preferredAmplitudes picks the preferred amplitude of each arrival (the highest ampid)
// and returns ampid -> arid.
func preferredAmplitudes(amplitudes []legacy.Amplitude) map[int64]int64 {
	preferred := make(map[int64]int64, len(amplitudes))

	for _, a := range amplitudes {
		if current, ok := preferred[a.ArrivalID]; !ok || a.ID > current {
			preferred[a.ArrivalID] = a.ID
		}
	}

	aridByAmpid := make(map[int64]int64, len(preferred))
	for arid, ampid := range preferred {
		aridByAmpid[ampid] = arid
	}

	return aridByAmpid
}

func parseFilterUsage(groupName string) (detection.FilterUsage, error) {
	usage, ok := detection.ParseFilterUsage(groupName)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFilterUsage, groupName)
	}

	return usage, nil
}
