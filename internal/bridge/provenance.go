package bridge

import (
	"context"
	"log/slog"

	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/legacy"
)

// arrivalReason is why the from-arrival decision table chose its outcome.
type arrivalReason int

const (
	reasonFirstStage arrivalReason = iota + 1
	reasonNotAssociated
	reasonNoPriorArrival
	reasonPhaseChanged
	reasonCarriedOver
)

var arrivalReasonNames = map[arrivalReason]string{
	reasonFirstStage:     "first_stage",
	reasonNotAssociated:  "not_associated",
	reasonNoPriorArrival: "no_prior_arrival",
	reasonPhaseChanged:   "phase_changed",
	reasonCarriedOver:    "carried_over",
}

func (r arrivalReason) String() string {
	return arrivalReasonNames[r]
}

// arrivalOutcome is the tagged result of the from-arrival decision table. derive is set
// when the stage gets its own from-arrival hypothesis.
type arrivalOutcome struct {
	reason arrivalReason
	derive bool
}

// classifyArrival runs the from-arrival decision table for one current-stage arrival.
func classifyArrival(agg aggregate, arrival legacy.Arrival) arrivalOutcome {
	if agg.previous == nil {
		return arrivalOutcome{reason: reasonFirstStage, derive: true}
	}

	if len(agg.current.assocs[arrival.ID]) == 0 {
		return arrivalOutcome{reason: reasonNotAssociated, derive: true}
	}

	prior, ok := agg.previous.arrivals[arrival.ID]
	if !ok {
		return arrivalOutcome{reason: reasonNoPriorArrival, derive: true}
	}

	if prior.Phase != arrival.Phase {
		return arrivalOutcome{reason: reasonPhaseChanged, derive: true}
	}

	return arrivalOutcome{reason: reasonCarriedOver}
}

// assocParentRule is the rule of the from-association decision table that picked a parent.
type assocParentRule int

const (
	// ruleSelfAnchor: no predecessor stage, parent is this stage's from-arrival hypothesis.
	ruleSelfAnchor assocParentRule = iota + 1
	// ruleMatchingAssoc: the predecessor has the same (arid, orid), parent is its hypothesis.
	ruleMatchingAssoc
	// ruleReinterpreted: the arrival is new or its phase changed, parent is this stage's
	// from-arrival hypothesis.
	ruleReinterpreted
	// rulePriorArrival: parent is the predecessor's from-arrival hypothesis.
	rulePriorArrival
)

var assocParentRuleNames = map[assocParentRule]string{
	ruleSelfAnchor:    "self_anchor",
	ruleMatchingAssoc: "matching_assoc",
	ruleReinterpreted: "reinterpreted",
	rulePriorArrival:  "prior_arrival",
}

func (r assocParentRule) String() string {
	return assocParentRuleNames[r]
}

// chooseAssocParent runs the from-association decision table for one current-stage assoc.
func chooseAssocParent(agg aggregate, arrival legacy.Arrival, assoc legacy.Assoc) assocParentRule {
	if agg.previous == nil {
		return ruleSelfAnchor
	}

	if agg.previous.hasAssoc(assoc.Key) {
		return ruleMatchingAssoc
	}

	prior, ok := agg.previous.arrivals[arrival.ID]
	if !ok || prior.Phase != arrival.Phase {
		return ruleReinterpreted
	}

	return rulePriorArrival
}

// synthesized holds the hypotheses built for one arrival, from-arrival first.
type synthesized struct {
	arrival    legacy.Arrival
	hypotheses []detection.Hypothesis
}

// synthesize builds the hypotheses of every current-stage arrival of agg, in ascending
// arid order. Arrivals without a waveform source yield nothing. The from-arrival
// hypothesis of an arid is always built before the association hypotheses that may
// reference it. A non-nil sel limits the output to the selected hypotheses.
func (r *Repository) synthesize(
	ctx context.Context,
	agg aggregate,
	waveforms map[int64]legacy.Wfdisc,
	sel *selection,
) []synthesized {
	out := make([]synthesized, 0, len(agg.current.arrivals))

	for _, arid := range agg.current.arids() {
		arrival := agg.current.arrivals[arid]

		waveform, ok := waveforms[arid]
		if !ok {
			r.logger.Warn("No waveform source for arrival, skipping",
				slog.String("stage", agg.current.stage.Name),
				slog.Int64("arid", arid),
				slog.String("channel", arrival.StationChannel()))
			arrivalsSkipped.WithLabelValues(skipNoWaveform).Inc()

			continue
		}

		var amplitude *legacy.Amplitude

		if sel, ok := selectAmplitude(arrival, agg.current.amplitudes[arid]); ok {
			if sel.lowConfidence {
				r.logger.Debug("Amplitude selected by highest id fallback",
					slog.Int64("arid", arid),
					slog.Int64("ampid", sel.amplitude.ID))
				lowConfidenceAmplitudes.Inc()
			}

			amplitude = &sel.amplitude
		}

		base := detection.Facts{
			Stage:                  agg.current.stage.Name,
			MonitoringOrganization: r.topology.MonitoringOrganization(),
			Arrival:                arrival,
			Waveform:               waveform,
			Amplitude:              amplitude,
		}

		result := synthesized{arrival: arrival}

		outcome := classifyArrival(agg, arrival)
		if outcome.derive && sel.includesArrival(arid) {
			facts := base
			facts.ID = r.arrivalHypothesisID(agg.current.account, arid)
			facts.Parent = r.priorArrivalParent(agg, arid)

			if h, ok := r.assemble(ctx, facts, "arrival"); ok {
				result.hypotheses = append(result.hypotheses, h)
			}
		} else if !outcome.derive {
			r.logger.Debug("Arrival carried over from previous stage",
				slog.String("stage", agg.current.stage.Name),
				slog.Int64("arid", arid),
				slog.String("reason", outcome.reason.String()))
		}

		for _, assoc := range agg.current.assocs[arid] {
			if !sel.includesAssoc(assoc.Key) {
				continue
			}

			facts := base
			facts.ID = r.assocHypothesisID(agg.current.account, assoc.Key)
			facts.Parent = r.assocParent(agg, arrival, assoc)
			facts.Assoc = &assoc

			if h, ok := r.assemble(ctx, facts, "assoc"); ok {
				result.hypotheses = append(result.hypotheses, h)
			}
		}

		if len(result.hypotheses) > 0 {
			out = append(out, result)
		}
	}

	return out
}

// priorArrivalParent is the parent of a derived from-arrival hypothesis: the predecessor's
// from-arrival hypothesis when the predecessor holds the arrival, otherwise none.
func (r *Repository) priorArrivalParent(agg aggregate, arid int64) *detection.HypothesisID {
	if !agg.previous.hasArrival(arid) {
		return nil
	}

	parent := r.arrivalHypothesisID(agg.previous.account, arid)

	return &parent
}

func (r *Repository) assocParent(agg aggregate, arrival legacy.Arrival, assoc legacy.Assoc) *detection.HypothesisID {
	var parent detection.HypothesisID

	rule := chooseAssocParent(agg, arrival, assoc)
	switch rule {
	case ruleSelfAnchor, ruleReinterpreted:
		parent = r.arrivalHypothesisID(agg.current.account, arrival.ID)
	case ruleMatchingAssoc:
		parent = r.assocHypothesisID(agg.previous.account, assoc.Key)
	case rulePriorArrival:
		parent = r.arrivalHypothesisID(agg.previous.account, arrival.ID)
	}

	r.logger.Debug("Resolved association parent",
		slog.Int64("arid", assoc.Key.ArrivalID),
		slog.Int64("orid", assoc.Key.OriginID),
		slog.String("rule", rule.String()))

	return &parent
}

func (r *Repository) arrivalHypothesisID(account string, arid int64) detection.HypothesisID {
	return detection.HypothesisID{
		DetectionID: r.registry.DetectionIDForArrival(arid),
		ID:          r.registry.HypothesisIDForArrival(account, arid),
	}
}

func (r *Repository) assocHypothesisID(account string, key legacy.AridOridKey) detection.HypothesisID {
	return detection.HypothesisID{
		DetectionID: r.registry.DetectionIDForArrival(key.ArrivalID),
		ID:          r.registry.HypothesisIDForAssoc(account, key.ArrivalID, key.OriginID),
	}
}

// assemble delegates to the assembler and indexes the segment of the resulting hypothesis.
func (r *Repository) assemble(ctx context.Context, facts detection.Facts, mode string) (detection.Hypothesis, bool) {
	h, ok := r.assembler.Assemble(facts)
	if !ok {
		r.logger.Debug("Assembler skipped hypothesis",
			slog.String("stage", facts.Stage),
			slog.Int64("arid", facts.Arrival.ID),
			slog.String("mode", mode))
		arrivalsSkipped.WithLabelValues(skipAssemblerRejected).Inc()

		return detection.Hypothesis{}, false
	}

	hypothesesSynthesized.WithLabelValues(facts.Stage, mode).Inc()

	if r.segments != nil {
		if err := r.segments.Add(ctx, h.Segment, facts.Waveform.ID); err != nil {
			r.logger.Warn("Failed to index channel segment",
				slog.String("segment", h.Segment.String()),
				slog.String("error", err.Error()))
		}
	}

	return h, true
}
