// Package detection provides the signal detection value objects produced by the bridge.
package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeatureMeasurementType names a measured feature of a hypothesis.
type FeatureMeasurementType string

// Feature measurement types.
const (
	MeasurementArrivalTime      FeatureMeasurementType = "ARRIVAL_TIME"
	MeasurementPhase            FeatureMeasurementType = "PHASE"
	MeasurementAmplitudeA5Over2 FeatureMeasurementType = "AMPLITUDE_A5_OVER_2"
)

type (
	// HypothesisID identifies a hypothesis together with the detection it belongs to.
	HypothesisID struct {
		DetectionID uuid.UUID `json:"detectionId"`
		ID          uuid.UUID `json:"id"`
	}

	// SegmentDescriptor identifies the waveform channel segment a hypothesis was measured on.
	SegmentDescriptor struct {
		Station   string    `json:"station"`
		Channel   string    `json:"channel"`
		StartTime time.Time `json:"startTime"`
		EndTime   time.Time `json:"endTime"`
	}

	// FeatureMeasurement is one measured feature. Value is unused for phase measurements and
	// Period is only set for amplitudes.
	FeatureMeasurement struct {
		Type   FeatureMeasurementType `json:"type"`
		Time   time.Time              `json:"time"`
		Phase  string                 `json:"phase,omitempty"`
		Value  float64                `json:"value,omitempty"`
		Period float64                `json:"period,omitempty"`
	}

	// Association records the origin a from-association hypothesis was reviewed against.
	Association struct {
		OriginID     int64   `json:"originId"`
		Distance     float64 `json:"distance"`
		TimeResidual float64 `json:"timeResidual"`
	}

	// Hypothesis is one immutable interpretation of a detection at one stage.
	Hypothesis struct {
		ID                     HypothesisID         `json:"id"`
		Stage                  string               `json:"stage"`
		ParentID               *HypothesisID        `json:"parentId,omitempty"`
		MonitoringOrganization string               `json:"monitoringOrganization"`
		Station                string               `json:"station"`
		Channel                string               `json:"channel"`
		Phase                  string               `json:"phase"`
		ArrivalTime            time.Time            `json:"arrivalTime"`
		Segment                SegmentDescriptor    `json:"segment"`
		WaveformID             int64                `json:"waveformId"`
		AmplitudeID            *int64               `json:"amplitudeId,omitempty"`
		Association            *Association         `json:"association,omitempty"`
		FeatureMeasurements    []FeatureMeasurement `json:"featureMeasurements"`
	}

	// SignalDetection groups the hypotheses of one arrival across stages.
	SignalDetection struct {
		ID                     uuid.UUID    `json:"id"`
		Station                string       `json:"station"`
		MonitoringOrganization string       `json:"monitoringOrganization"`
		Hypotheses             []Hypothesis `json:"hypotheses"`
	}
)

// String returns "station.channel@start/end" and doubles as the segment cache key.
func (d SegmentDescriptor) String() string {
	return fmt.Sprintf("%s.%s@%s/%s",
		d.Station, d.Channel,
		d.StartTime.UTC().Format(time.RFC3339Nano), d.EndTime.UTC().Format(time.RFC3339Nano))
}

// Valid reports whether the descriptor names a channel over a non-inverted window.
func (d SegmentDescriptor) Valid() bool {
	return strings.TrimSpace(d.Station) != "" && strings.TrimSpace(d.Channel) != "" &&
		!d.EndTime.Before(d.StartTime)
}

// FromAssociation reports whether the hypothesis was derived from an association record.
func (h Hypothesis) FromAssociation() bool {
	return h.Association != nil
}
