package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

// resolveWaveforms selects one wfdisc per arrival. Arrivals missing from the result have
// no resolvable waveform source and must not produce hypotheses.
//
// Tagged arrivals resolve through their (conflict-resolved) wftag only: a tag pointing at
// a missing wfdisc drops the arrival. Untagged arrivals fall back to a wfdisc on the same
// station and channel whose window covers the arrival time.
func (r *Repository) resolveWaveforms(
	ctx context.Context,
	c stageConnectors,
	arrivals map[int64]legacy.Arrival,
) (map[int64]legacy.Wfdisc, error) {
	resolved := make(map[int64]legacy.Wfdisc, len(arrivals))
	if len(arrivals) == 0 {
		return resolved, nil
	}

	if c.wfdisc == nil {
		r.logger.Warn("No wfdisc connector for stage, no waveform sources can be resolved",
			slog.String("stage", c.stage.Name),
			slog.Int("arrivals", len(arrivals)))

		return resolved, nil
	}

	arids := slices.Sorted(maps.Keys(arrivals))

	tags := map[int64]legacy.WfTag{}

	if c.wftag != nil {
		rows, err := c.wftag.FindWfTagsByArrivalIDs(ctx, arids)
		if err != nil {
			return nil, fmt.Errorf("stage %s wftags: %w", c.stage.Name, err)
		}

		tags = selectTags(rows)
	}

	if len(tags) > 0 {
		wfids := make([]int64, 0, len(tags))
		for _, tag := range tags {
			wfids = append(wfids, tag.Key.WfID)
		}

		slices.Sort(wfids)

		wfdiscs, err := c.wfdisc.FindWfdiscsByIDs(ctx, slices.Compact(wfids))
		if err != nil {
			return nil, fmt.Errorf("stage %s wfdiscs: %w", c.stage.Name, err)
		}

		byID := make(map[int64]legacy.Wfdisc, len(wfdiscs))
		for _, w := range wfdiscs {
			byID[w.ID] = w
		}

		for arid, tag := range tags {
			w, ok := byID[tag.Key.WfID]
			if !ok {
				r.logger.Warn("Tagged wfdisc not found, dropping arrival",
					slog.Int64("arid", arid),
					slog.String("wftag", tag.Key.String()))

				continue
			}

			resolved[arid] = w
		}
	}

	var untagged []legacy.Arrival

	for _, arid := range arids {
		if _, tagged := tags[arid]; !tagged {
			untagged = append(untagged, arrivals[arid])
		}
	}

	if len(untagged) == 0 {
		return resolved, nil
	}

	keys := make([]legacy.SiteChanKey, 0, len(untagged))
	for _, a := range untagged {
		keys = append(keys, a.SiteChanKey())
	}

	candidates, err := c.wfdisc.FindWfdiscsCovering(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("stage %s covering wfdiscs: %w", c.stage.Name, err)
	}

	for _, a := range untagged {
		if w, ok := selectCoveringWfdisc(a, candidates); ok {
			resolved[a.ID] = w
		}
	}

	return resolved, nil
}

// selectTags keeps one "arid" wftag per arrival using resolveTagConflict.
func selectTags(rows []legacy.WfTag) map[int64]legacy.WfTag {
	chosen := make(map[int64]legacy.WfTag, len(rows))

	for _, tag := range rows {
		if tag.Key.TagName != legacy.WfTagNameArrival {
			continue
		}

		if current, ok := chosen[tag.Key.ID]; ok {
			chosen[tag.Key.ID] = resolveTagConflict(current, tag)

			continue
		}

		chosen[tag.Key.ID] = tag
	}

	return chosen
}

// resolveTagConflict picks the tag with the latest load date, then the larger wfid. The
// order is total so the outcome does not depend on row order.
func resolveTagConflict(a, b legacy.WfTag) legacy.WfTag {
	switch {
	case a.LoadDate.After(b.LoadDate):
		return a
	case b.LoadDate.After(a.LoadDate):
		return b
	case a.Key.WfID >= b.Key.WfID:
		return a
	default:
		return b
	}
}

// selectCoveringWfdisc picks, among wfdiscs on the arrival's station and channel whose
// window contains the arrival time, the one starting latest, then the larger wfid.
func selectCoveringWfdisc(a legacy.Arrival, candidates []legacy.Wfdisc) (legacy.Wfdisc, bool) {
	var (
		best  legacy.Wfdisc
		found bool
	)

	for _, w := range candidates {
		if w.Station != a.Station || w.Channel != a.Channel || !w.Covers(a.Time) {
			continue
		}

		if !found || w.Time.After(best.Time) || (w.Time.Equal(best.Time) && w.ID > best.ID) {
			best = w
			found = true
		}
	}

	return best, found
}
