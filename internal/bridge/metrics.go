package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons reported on arrivalsSkipped.
const (
	skipNoWaveform        = "no_waveform"
	skipAssemblerRejected = "assembler_rejected"
	skipUnknownStage      = "unknown_stage"
	skipUnresolvableID    = "unresolvable_id"
)

var (
	hypothesesSynthesized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdbridge",
		Name:      "hypotheses_synthesized_total",
		Help:      "Signal detection hypotheses assembled, by derivation mode.",
	}, []string{"stage", "mode"})

	arrivalsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdbridge",
		Name:      "units_skipped_total",
		Help:      "Arrivals, associations or ids skipped during bridging, by reason.",
	}, []string{"reason"})

	lowConfidenceAmplitudes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sdbridge",
		Name:      "amplitude_fallback_selections_total",
		Help:      "Amplitude selections that fell back to the highest amplitude id.",
	})

	partialResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdbridge",
		Name:      "partial_results_total",
		Help:      "Batch results returned with the partial flag set.",
	}, []string{"operation"})
)
