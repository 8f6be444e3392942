package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

// InMemoryAccount is a thread-safe in-memory legacy account. It answers the same batched
// queries as PostgresAccount and is used for development and tests.
type InMemoryAccount struct {
	mutex sync.RWMutex

	arrivals    map[int64]legacy.Arrival
	assocs      map[legacy.AridOridKey]legacy.Assoc
	amplitudes  map[int64]legacy.Amplitude
	wftags      map[legacy.WfTagKey]legacy.WfTag
	wfdiscs     map[int64]legacy.Wfdisc
	sites       []legacy.Site
	arrivalPars []legacy.ArrivalDynParsInt
	ampPars     []legacy.AmplitudeDynParsInt
}

// Compile-time check that InMemoryAccount implements every legacy connector.
var _ legacy.Account = (*InMemoryAccount)(nil)

// NewInMemoryAccount creates an empty in-memory account.
func NewInMemoryAccount() *InMemoryAccount {
	return &InMemoryAccount{
		arrivals:   make(map[int64]legacy.Arrival),
		assocs:     make(map[legacy.AridOridKey]legacy.Assoc),
		amplitudes: make(map[int64]legacy.Amplitude),
		wftags:     make(map[legacy.WfTagKey]legacy.WfTag),
		wfdiscs:    make(map[int64]legacy.Wfdisc),
	}
}

// AddArrivals stores arrivals, replacing any with the same arid.
func (s *InMemoryAccount) AddArrivals(arrivals ...legacy.Arrival) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, a := range arrivals {
		s.arrivals[a.ID] = a
	}

	return s
}

// AddAssocs stores assocs, replacing any with the same (arid, orid).
func (s *InMemoryAccount) AddAssocs(assocs ...legacy.Assoc) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, a := range assocs {
		s.assocs[a.Key] = a
	}

	return s
}

// AddAmplitudes stores amplitudes, replacing any with the same ampid.
func (s *InMemoryAccount) AddAmplitudes(amplitudes ...legacy.Amplitude) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, a := range amplitudes {
		s.amplitudes[a.ID] = a
	}

	return s
}

// AddWfTags stores wftags.
func (s *InMemoryAccount) AddWfTags(tags ...legacy.WfTag) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, t := range tags {
		s.wftags[t.Key] = t
	}

	return s
}

// AddWfdiscs stores wfdiscs, replacing any with the same wfid.
func (s *InMemoryAccount) AddWfdiscs(wfdiscs ...legacy.Wfdisc) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, w := range wfdiscs {
		s.wfdiscs[w.ID] = w
	}

	return s
}

// AddSites stores sites.
func (s *InMemoryAccount) AddSites(sites ...legacy.Site) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sites = append(s.sites, sites...)

	return s
}

// AddArrivalDynPars stores integer arrival parameters.
func (s *InMemoryAccount) AddArrivalDynPars(pars ...legacy.ArrivalDynParsInt) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.arrivalPars = append(s.arrivalPars, pars...)

	return s
}

// AddAmplitudeDynPars stores integer amplitude parameters.
func (s *InMemoryAccount) AddAmplitudeDynPars(pars ...legacy.AmplitudeDynParsInt) *InMemoryAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ampPars = append(s.ampPars, pars...)

	return s
}

// FindArrivalsByIDs implements legacy.ArrivalConnector.
func (s *InMemoryAccount) FindArrivalsByIDs(_ context.Context, arids []int64) ([]legacy.Arrival, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Arrival{}

	for _, arid := range uniqueSorted(arids) {
		if a, ok := s.arrivals[arid]; ok {
			out = append(out, a)
		}
	}

	return out, nil
}

// FindArrivals implements legacy.ArrivalConnector.
func (s *InMemoryAccount) FindArrivals(_ context.Context, q legacy.ArrivalTimeQuery) ([]legacy.Arrival, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	start := q.Start.Add(-q.Lead)
	end := q.End.Add(q.Lag)
	out := []legacy.Arrival{}

	for _, a := range s.arrivals {
		if !slices.Contains(q.Stations, a.Station) || slices.Contains(q.Excluded, a.ID) {
			continue
		}

		if a.Time.Before(start) || a.Time.After(end) {
			continue
		}

		out = append(out, a)
	}

	slices.SortFunc(out, func(a, b legacy.Arrival) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

// FindAssocsByArrivalIDs implements legacy.AssocConnector.
func (s *InMemoryAccount) FindAssocsByArrivalIDs(_ context.Context, arids []int64) ([]legacy.Assoc, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Assoc{}

	for _, a := range s.assocs {
		if slices.Contains(arids, a.Key.ArrivalID) {
			out = append(out, a)
		}
	}

	sortAssocs(out)

	return out, nil
}

// FindAssocsByKeys implements legacy.AssocConnector.
func (s *InMemoryAccount) FindAssocsByKeys(_ context.Context, keys []legacy.AridOridKey) ([]legacy.Assoc, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Assoc{}
	seen := make(map[legacy.AridOridKey]struct{}, len(keys))

	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}

		if a, ok := s.assocs[k]; ok {
			out = append(out, a)
		}
	}

	sortAssocs(out)

	return out, nil
}

// FindAmplitudesByArrivalIDs implements legacy.AmplitudeConnector.
func (s *InMemoryAccount) FindAmplitudesByArrivalIDs(_ context.Context, arids []int64) ([]legacy.Amplitude, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Amplitude{}

	for _, a := range s.amplitudes {
		if slices.Contains(arids, a.ArrivalID) {
			out = append(out, a)
		}
	}

	slices.SortFunc(out, func(a, b legacy.Amplitude) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

// FindWfTagsByArrivalIDs implements legacy.WfTagConnector.
func (s *InMemoryAccount) FindWfTagsByArrivalIDs(_ context.Context, arids []int64) ([]legacy.WfTag, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.WfTag{}

	for _, t := range s.wftags {
		if t.Key.TagName == legacy.WfTagNameArrival && slices.Contains(arids, t.Key.ID) {
			out = append(out, t)
		}
	}

	slices.SortFunc(out, func(a, b legacy.WfTag) int {
		return cmp.Or(cmp.Compare(a.Key.ID, b.Key.ID), cmp.Compare(a.Key.WfID, b.Key.WfID))
	})

	return out, nil
}

// FindWfdiscsByIDs implements legacy.WfdiscConnector.
func (s *InMemoryAccount) FindWfdiscsByIDs(_ context.Context, wfids []int64) ([]legacy.Wfdisc, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Wfdisc{}

	for _, wfid := range uniqueSorted(wfids) {
		if w, ok := s.wfdiscs[wfid]; ok {
			out = append(out, w)
		}
	}

	return out, nil
}

// FindWfdiscsCovering implements legacy.WfdiscConnector.
func (s *InMemoryAccount) FindWfdiscsCovering(_ context.Context, keys []legacy.SiteChanKey) ([]legacy.Wfdisc, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Wfdisc{}

	for _, w := range s.wfdiscs {
		covered := slices.ContainsFunc(keys, func(k legacy.SiteChanKey) bool {
			return w.Station == k.Station && w.Channel == k.Channel && w.Covers(k.Time)
		})
		if covered {
			out = append(out, w)
		}
	}

	slices.SortFunc(out, func(a, b legacy.Wfdisc) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

// FindSitesByReferenceStations implements legacy.SiteConnector.
func (s *InMemoryAccount) FindSitesByReferenceStations(
	_ context.Context,
	referenceStations []string,
	start, end time.Time,
) ([]legacy.Site, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.Site{}

	for _, site := range s.sites {
		if !slices.Contains(referenceStations, site.ReferenceStation) {
			continue
		}

		if site.OnDate.After(end) || (site.OffDate != nil && site.OffDate.Before(start)) {
			continue
		}

		out = append(out, site)
	}

	slices.SortFunc(out, func(a, b legacy.Site) int {
		return cmp.Or(cmp.Compare(a.Station, b.Station), a.OnDate.Compare(b.OnDate))
	})

	return out, nil
}

// FindFilterArrivalDynParsByIDs implements legacy.ArrivalDynParsIntConnector.
func (s *InMemoryAccount) FindFilterArrivalDynParsByIDs(
	_ context.Context,
	arids []int64,
) ([]legacy.ArrivalDynParsInt, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.ArrivalDynParsInt{}

	for _, p := range s.arrivalPars {
		if p.ParamName == legacy.FilterParamName && slices.Contains(arids, p.ArrivalID) {
			out = append(out, p)
		}
	}

	return out, nil
}

// FindFilterAmplitudeDynParsByIDs implements legacy.AmplitudeDynParsIntConnector.
func (s *InMemoryAccount) FindFilterAmplitudeDynParsByIDs(
	_ context.Context,
	ampids []int64,
) ([]legacy.AmplitudeDynParsInt, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []legacy.AmplitudeDynParsInt{}

	for _, p := range s.ampPars {
		if p.ParamName == legacy.FilterParamName && slices.Contains(ampids, p.AmplitudeID) {
			out = append(out, p)
		}
	}

	return out, nil
}

func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)

	return slices.Compact(out)
}

func sortAssocs(assocs []legacy.Assoc) {
	slices.SortFunc(assocs, func(a, b legacy.Assoc) int {
		return cmp.Or(cmp.Compare(a.Key.ArrivalID, b.Key.ArrivalID), cmp.Compare(a.Key.OriginID, b.Key.OriginID))
	})
}
