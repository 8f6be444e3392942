package legacy

import (
	"context"
	"fmt"
	"time"
)

// Kind is a closed set of legacy record kinds, one connector per (stage, kind).
type Kind int

// Record kinds.
const (
	KindArrival Kind = iota + 1
	KindAssoc
	KindAmplitude
	KindWfTag
	KindWfdisc
	KindSite
	KindArrivalDynParsInt
	KindAmplitudeDynParsInt
)

var kindNames = map[Kind]string{
	KindArrival:             "arrival",
	KindAssoc:               "assoc",
	KindAmplitude:           "amplitude",
	KindWfTag:               "wftag",
	KindWfdisc:              "wfdisc",
	KindSite:                "site",
	KindArrivalDynParsInt:   "arrival_dynpars_int",
	KindAmplitudeDynParsInt: "ampdynpars_int",
}

// Kinds returns every record kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindArrival, KindAssoc, KindAmplitude, KindWfTag,
		KindWfdisc, KindSite, KindArrivalDynParsInt, KindAmplitudeDynParsInt,
	}
}

// String returns the legacy table name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a legacy table name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}

	return 0, false
}

// The connector interfaces below are batched: one call returns every row for the given
// keys. Implementations must return an empty slice (not an error) for empty input.
type (
	// ArrivalConnector reads the arrival table of one account.
	ArrivalConnector interface {
		FindArrivalsByIDs(ctx context.Context, arids []int64) ([]Arrival, error)
		// FindArrivals returns arrivals for the station codes whose time lies in
		// [start-lead, end+lag], skipping excluded arids.
		FindArrivals(ctx context.Context, q ArrivalTimeQuery) ([]Arrival, error)
	}

	// AssocConnector reads the assoc table of one account.
	AssocConnector interface {
		FindAssocsByArrivalIDs(ctx context.Context, arids []int64) ([]Assoc, error)
		FindAssocsByKeys(ctx context.Context, keys []AridOridKey) ([]Assoc, error)
	}

	// AmplitudeConnector reads the amplitude table of one account.
	AmplitudeConnector interface {
		FindAmplitudesByArrivalIDs(ctx context.Context, arids []int64) ([]Amplitude, error)
	}

	// WfTagConnector reads the wftag table of one account.
	WfTagConnector interface {
		FindWfTagsByArrivalIDs(ctx context.Context, arids []int64) ([]WfTag, error)
	}

	// WfdiscConnector reads the wfdisc table of one account.
	WfdiscConnector interface {
		FindWfdiscsByIDs(ctx context.Context, wfids []int64) ([]Wfdisc, error)
		// FindWfdiscsCovering returns wfdiscs matching a key's station and channel
		// whose window contains the key's time.
		FindWfdiscsCovering(ctx context.Context, keys []SiteChanKey) ([]Wfdisc, error)
	}

	// SiteConnector reads the site table of one account.
	SiteConnector interface {
		FindSitesByReferenceStations(
			ctx context.Context, referenceStations []string, start, end time.Time,
		) ([]Site, error)
	}

	// ArrivalDynParsIntConnector reads filter parameters recorded per arrival.
	ArrivalDynParsIntConnector interface {
		FindFilterArrivalDynParsByIDs(ctx context.Context, arids []int64) ([]ArrivalDynParsInt, error)
	}

	// AmplitudeDynParsIntConnector reads filter parameters recorded per amplitude.
	AmplitudeDynParsIntConnector interface {
		FindFilterAmplitudeDynParsByIDs(ctx context.Context, ampids []int64) ([]AmplitudeDynParsInt, error)
	}

	// Account bundles the connectors of one legacy backing-store account. Which of them
	// may be used for a given stage is decided by the stage topology, not the account.
	Account interface {
		ArrivalConnector
		AssocConnector
		AmplitudeConnector
		WfTagConnector
		WfdiscConnector
		SiteConnector
		ArrivalDynParsIntConnector
		AmplitudeDynParsIntConnector
	}

	// ArrivalTimeQuery parameterises the station/time arrival scan.
	ArrivalTimeQuery struct {
		Stations []string
		Excluded []int64
		Start    time.Time
		End      time.Time
		Lead     time.Duration
		Lag      time.Duration
	}
)
