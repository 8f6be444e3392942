package detection

import (
	"github.com/google/uuid"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

type (
	// Facts are the resolved legacy records a hypothesis is built from. Parent, Amplitude
	// and Assoc are optional; Assoc is only set for from-association hypotheses.
	Facts struct {
		ID                     HypothesisID
		Stage                  string
		MonitoringOrganization string
		Arrival                legacy.Arrival
		Waveform               legacy.Wfdisc
		Parent                 *HypothesisID
		Amplitude              *legacy.Amplitude
		Assoc                  *legacy.Assoc
	}

	// Assembler turns resolved facts into a hypothesis. Returning false is a skip signal,
	// not a failure.
	Assembler interface {
		Assemble(facts Facts) (Hypothesis, bool)
	}

	// AssemblerFunc adapts a function to the Assembler interface.
	AssemblerFunc func(facts Facts) (Hypothesis, bool)

	// DefaultAssembler builds hypotheses with arrival time, phase and (when selected)
	// amplitude feature measurements.
	DefaultAssembler struct{}
)

// Assemble calls f.
func (f AssemblerFunc) Assemble(facts Facts) (Hypothesis, bool) {
	return f(facts)
}

// Assemble rejects facts with no identity or a waveform that does not describe a valid
// channel segment.
func (DefaultAssembler) Assemble(facts Facts) (Hypothesis, bool) {
	if facts.ID.ID == uuid.Nil || facts.ID.DetectionID == uuid.Nil {
		return Hypothesis{}, false
	}

	segment := SegmentDescriptor{
		Station:   facts.Waveform.Station,
		Channel:   facts.Waveform.Channel,
		StartTime: facts.Waveform.Time,
		EndTime:   facts.Waveform.EndTime,
	}
	if !segment.Valid() {
		return Hypothesis{}, false
	}

	h := Hypothesis{
		ID:                     facts.ID,
		Stage:                  facts.Stage,
		MonitoringOrganization: facts.MonitoringOrganization,
		Station:                facts.Arrival.Station,
		Channel:                facts.Arrival.Channel,
		Phase:                  facts.Arrival.Phase,
		ArrivalTime:            facts.Arrival.Time,
		Segment:                segment,
		WaveformID:             facts.Waveform.ID,
		FeatureMeasurements: []FeatureMeasurement{
			{Type: MeasurementArrivalTime, Time: facts.Arrival.Time},
			{Type: MeasurementPhase, Time: facts.Arrival.Time, Phase: facts.Arrival.Phase},
		},
	}

	if facts.Parent != nil {
		parent := *facts.Parent
		h.ParentID = &parent
	}

	if facts.Assoc != nil {
		h.Association = &Association{
			OriginID:     facts.Assoc.Key.OriginID,
			Distance:     facts.Assoc.Distance,
			TimeResidual: facts.Assoc.TimeResidual,
		}

		if facts.Assoc.Phase != "" {
			h.Phase = facts.Assoc.Phase
			h.FeatureMeasurements[1].Phase = facts.Assoc.Phase
		}
	}

	if facts.Amplitude != nil {
		ampid := facts.Amplitude.ID
		h.AmplitudeID = &ampid
		h.FeatureMeasurements = append(h.FeatureMeasurements, FeatureMeasurement{
			Type:   MeasurementAmplitudeA5Over2,
			Time:   facts.Amplitude.Time,
			Value:  facts.Amplitude.Amplitude,
			Period: facts.Amplitude.Period,
		})
	}

	return h, true
}
