// Package legacy provides the record shapes of the legacy staged detection store and the
// batched connector interfaces used to read them.
//
// This package defines what the bridge needs from the legacy store, following the
// Dependency Inversion Principle. Concrete connectors (PostgreSQL, in-memory) live in
// the internal/storage package.
package legacy

import (
	"fmt"
	"time"
)

// AmplitudeTypeA5Over2 is the only amplitude measurement type bridged into hypotheses.
const AmplitudeTypeA5Over2 = "A5/2"

// WfTagNameArrival is the wftag tag name linking an arrival id to a waveform.
const WfTagNameArrival = "arid"

// FilterParamName is the dynpars parameter holding a legacy filter id.
const FilterParamName = "FILTERID"

type (
	// Arrival is a detection record keyed by arid, unique within one stage account.
	Arrival struct {
		ID        int64
		Station   string
		Channel   string
		Time      time.Time
		Phase     string
		Amplitude float64
		Period    float64
		LoadDate  time.Time
	}

	// AridOridKey identifies an association between an arrival and an origin.
	AridOridKey struct {
		ArrivalID int64
		OriginID  int64
	}

	// Assoc records that an arrival was associated to an origin within a stage. Its
	// presence for an arid signals that the arrival was reviewed in that stage.
	Assoc struct {
		Key          AridOridKey
		Phase        string
		Distance     float64
		TimeResidual float64
		LoadDate     time.Time
	}

	// Amplitude is an amplitude measurement made on an arrival.
	Amplitude struct {
		ID        int64
		ArrivalID int64
		Type      string
		Amplitude float64
		Period    float64
		Channel   string
		Time      time.Time
		LoadDate  time.Time
	}

	// WfTagKey identifies a wftag row.
	WfTagKey struct {
		TagName string
		ID      int64 // arid when TagName is "arid"
		WfID    int64
	}

	// WfTag links a tagged record (an arrival) to a wfdisc.
	WfTag struct {
		Key      WfTagKey
		LoadDate time.Time
	}

	// Wfdisc describes one waveform channel/time-window source.
	Wfdisc struct {
		ID         int64
		Station    string
		Channel    string
		Time       time.Time
		EndTime    time.Time
		SampleRate float64
		LoadDate   time.Time
	}

	// SiteChanKey locates a waveform by station, channel and time.
	SiteChanKey struct {
		Station string
		Channel string
		Time    time.Time
	}

	// Site maps a station code to its reference station over an operating period.
	Site struct {
		Station          string
		ReferenceStation string
		OnDate           time.Time
		OffDate          *time.Time
	}

	// ArrivalDynParsInt is an integer arrival processing parameter.
	ArrivalDynParsInt struct {
		ArrivalID int64
		GroupName string
		ParamName string
		Value     int64
	}

	// AmplitudeDynParsInt is an integer amplitude processing parameter.
	AmplitudeDynParsInt struct {
		AmplitudeID int64
		GroupName   string
		ParamName   string
		Value       int64
	}
)

// String returns the key in "tagname:id:wfid" form for logging.
func (k WfTagKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.TagName, k.ID, k.WfID)
}

// StationChannel returns the station/channel pair used to match waveforms.
func (a Arrival) StationChannel() string {
	return a.Station + "." + a.Channel
}

// SiteChanKey returns the station/channel/time key used for the untagged waveform lookup.
func (a Arrival) SiteChanKey() SiteChanKey {
	return SiteChanKey{Station: a.Station, Channel: a.Channel, Time: a.Time}
}

// StationChannel returns the station/channel pair used to match arrivals.
func (w Wfdisc) StationChannel() string {
	return w.Station + "." + w.Channel
}

// Covers reports whether the wfdisc window contains t (both ends inclusive).
func (w Wfdisc) Covers(t time.Time) bool {
	return !t.Before(w.Time) && !t.After(w.EndTime)
}
