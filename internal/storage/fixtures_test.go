package storage

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// legacyFixture is one account's worth of legacy rows shared by the in-memory and the
// PostgreSQL connector tests.
type legacyFixture struct {
	arrivals    []legacy.Arrival
	assocs      []legacy.Assoc
	amplitudes  []legacy.Amplitude
	wftags      []legacy.WfTag
	wfdiscs     []legacy.Wfdisc
	sites       []legacy.Site
	arrivalPars []legacy.ArrivalDynParsInt
	ampPars     []legacy.AmplitudeDynParsInt
}

func newLegacyFixture() legacyFixture {
	retired := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	opened := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	return legacyFixture{
		arrivals: []legacy.Arrival{
			{ID: 1, Station: "ASAR", Channel: "SHZ", Time: t0.Add(10 * time.Second), Phase: "P", Amplitude: 1.5, Period: 0.5},
			{ID: 2, Station: "ASAR", Channel: "SHZ", Time: t0.Add(100 * time.Second), Phase: "S", Amplitude: 2, Period: 1},
			{ID: 3, Station: "FITZ", Channel: "BHZ", Time: t0.Add(50 * time.Second), Phase: "P", Amplitude: 3, Period: 1},
			{ID: 4, Station: "ASAR", Channel: "SHZ", Time: t0.Add(time.Hour), Phase: "P", Amplitude: 4, Period: 1},
		},
		assocs: []legacy.Assoc{
			{Key: legacy.AridOridKey{ArrivalID: 1, OriginID: 100}, Phase: "P", Distance: 12.5, TimeResidual: 0.2},
			{Key: legacy.AridOridKey{ArrivalID: 1, OriginID: 101}, Phase: "Pn", Distance: 13, TimeResidual: -0.1},
			{Key: legacy.AridOridKey{ArrivalID: 3, OriginID: 100}, Phase: "P", Distance: 40, TimeResidual: 0.7},
		},
		amplitudes: []legacy.Amplitude{
			{ID: 10, ArrivalID: 1, Type: legacy.AmplitudeTypeA5Over2, Amplitude: 1.5, Period: 0.5, Channel: "SHZ", Time: t0.Add(11 * time.Second)},
			{ID: 11, ArrivalID: 1, Type: "SBSNR", Amplitude: 8, Period: 0.5, Channel: "SHZ", Time: t0.Add(11 * time.Second)},
			{ID: 12, ArrivalID: 3, Type: legacy.AmplitudeTypeA5Over2, Amplitude: 3, Period: 1, Channel: "BHZ", Time: t0.Add(51 * time.Second)},
		},
		wftags: []legacy.WfTag{
			{Key: legacy.WfTagKey{TagName: legacy.WfTagNameArrival, ID: 1, WfID: 1000}, LoadDate: t0},
			{Key: legacy.WfTagKey{TagName: legacy.WfTagNameArrival, ID: 1, WfID: 1001}, LoadDate: t0.Add(time.Minute)},
			{Key: legacy.WfTagKey{TagName: "evid", ID: 1, WfID: 1002}, LoadDate: t0},
		},
		wfdiscs: []legacy.Wfdisc{
			{ID: 1000, Station: "ASAR", Channel: "SHZ", Time: t0, EndTime: t0.Add(10 * time.Minute), SampleRate: 40},
			{ID: 1001, Station: "ASAR", Channel: "SHZ", Time: t0.Add(5 * time.Second), EndTime: t0.Add(20 * time.Second), SampleRate: 40},
			{ID: 1002, Station: "FITZ", Channel: "BHZ", Time: t0, EndTime: t0.Add(time.Minute), SampleRate: 20},
		},
		sites: []legacy.Site{
			{Station: "AS01", ReferenceStation: "ASAR", OnDate: opened},
			{Station: "AS02", ReferenceStation: "ASAR", OnDate: opened, OffDate: &retired},
			{Station: "FITZ", ReferenceStation: "FITZ", OnDate: opened},
		},
		arrivalPars: []legacy.ArrivalDynParsInt{
			{ArrivalID: 1, GroupName: "DETECT", ParamName: legacy.FilterParamName, Value: 7},
			{ArrivalID: 1, GroupName: "FK", ParamName: legacy.FilterParamName, Value: 8},
			{ArrivalID: 1, GroupName: "DETECT", ParamName: "THRESHOLD", Value: 99},
		},
		ampPars: []legacy.AmplitudeDynParsInt{
			{AmplitudeID: 10, GroupName: "MEASURE", ParamName: legacy.FilterParamName, Value: 9},
		},
	}
}

func (f legacyFixture) memoryAccount() *InMemoryAccount {
	return NewInMemoryAccount().
		AddArrivals(f.arrivals...).
		AddAssocs(f.assocs...).
		AddAmplitudes(f.amplitudes...).
		AddWfTags(f.wftags...).
		AddWfdiscs(f.wfdiscs...).
		AddSites(f.sites...).
		AddArrivalDynPars(f.arrivalPars...).
		AddAmplitudeDynPars(f.ampPars...)
}

// seed inserts the fixture into a provisioned account schema.
func (f legacyFixture) seed(ctx context.Context, t *testing.T, db *sql.DB, schema string) {
	t.Helper()

	exec := func(table, columns, placeholders string, args ...any) {
		t.Helper()

		query := fmt.Sprintf("INSERT INTO %q.%s (%s) VALUES (%s)", schema, table, columns, placeholders)
		_, err := db.ExecContext(ctx, query, args...)
		require.NoError(t, err, "insert into %s.%s", schema, table)
	}

	for _, a := range f.arrivals {
		exec("arrival", "arid, sta, chan, time, iphase, amp, per", "$1, $2, $3, $4, $5, $6, $7",
			a.ID, a.Station, a.Channel, toEpoch(a.Time), a.Phase, a.Amplitude, a.Period)
	}

	for _, a := range f.assocs {
		exec("assoc", "arid, orid, phase, delta, timeres", "$1, $2, $3, $4, $5",
			a.Key.ArrivalID, a.Key.OriginID, a.Phase, a.Distance, a.TimeResidual)
	}

	for _, a := range f.amplitudes {
		exec("amplitude", "ampid, arid, amptype, amp, per, chan, amptime", "$1, $2, $3, $4, $5, $6, $7",
			a.ID, a.ArrivalID, a.Type, a.Amplitude, a.Period, a.Channel, toEpoch(a.Time))
	}

	for _, w := range f.wftags {
		exec("wftag", "tagname, tagid, wfid, lddate", "$1, $2, $3, $4", w.Key.TagName, w.Key.ID, w.Key.WfID, w.LoadDate)
	}

	for _, w := range f.wfdiscs {
		exec("wfdisc", "wfid, sta, chan, time, endtime, samprate", "$1, $2, $3, $4, $5, $6",
			w.ID, w.Station, w.Channel, toEpoch(w.Time), toEpoch(w.EndTime), w.SampleRate)
	}

	for _, s := range f.sites {
		exec("site", "sta, refsta, ondate, offdate", "$1, $2, $3, $4", s.Station, s.ReferenceStation, s.OnDate, s.OffDate)
	}

	for _, p := range f.arrivalPars {
		exec("arrival_dynpars_int", "arid, group_name, param_name, value", "$1, $2, $3, $4",
			p.ArrivalID, p.GroupName, p.ParamName, p.Value)
	}

	for _, p := range f.ampPars {
		exec("ampdynpars_int", "ampid, group_name, param_name, value", "$1, $2, $3, $4",
			p.AmplitudeID, p.GroupName, p.ParamName, p.Value)
	}
}

func arrivalIDs(rows []legacy.Arrival) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	return ids
}

func wfdiscIDs(rows []legacy.Wfdisc) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	return ids
}

// assertConnectorContract checks every batched query of acct against the fixture rows.
func assertConnectorContract(ctx context.Context, t *testing.T, acct legacy.Account) {
	t.Helper()

	t.Run("arrivals by id", func(t *testing.T) {
		rows, err := acct.FindArrivalsByIDs(ctx, []int64{3, 1, 99})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, arrivalIDs(rows))
		assert.True(t, rows[0].Time.Equal(t0.Add(10*time.Second)))
		assert.Equal(t, "P", rows[0].Phase)
		assert.InDelta(t, 1.5, rows[0].Amplitude, 1e-9)

		rows, err = acct.FindArrivalsByIDs(ctx, nil)
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("arrivals by station and time", func(t *testing.T) {
		q := legacy.ArrivalTimeQuery{
			Stations: []string{"ASAR"},
			Start:    t0,
			End:      t0.Add(time.Minute),
			Lag:      time.Minute,
		}

		rows, err := acct.FindArrivals(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, arrivalIDs(rows))

		q.Excluded = []int64{2}
		rows, err = acct.FindArrivals(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, arrivalIDs(rows))

		rows, err = acct.FindArrivals(ctx, legacy.ArrivalTimeQuery{
			Stations: []string{"ASAR", "FITZ"},
			Start:    t0.Add(20 * time.Second),
			End:      t0.Add(60 * time.Second),
			Lead:     15 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, arrivalIDs(rows))
	})

	t.Run("assocs", func(t *testing.T) {
		rows, err := acct.FindAssocsByArrivalIDs(ctx, []int64{1})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(100), rows[0].Key.OriginID)
		assert.Equal(t, "Pn", rows[1].Phase)

		rows, err = acct.FindAssocsByKeys(ctx, []legacy.AridOridKey{
			{ArrivalID: 3, OriginID: 100}, {ArrivalID: 1, OriginID: 101}, {ArrivalID: 2, OriginID: 5},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, legacy.AridOridKey{ArrivalID: 1, OriginID: 101}, rows[0].Key)
		assert.Equal(t, legacy.AridOridKey{ArrivalID: 3, OriginID: 100}, rows[1].Key)
	})

	t.Run("amplitudes", func(t *testing.T) {
		rows, err := acct.FindAmplitudesByArrivalIDs(ctx, []int64{1})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(10), rows[0].ID)
		assert.Equal(t, legacy.AmplitudeTypeA5Over2, rows[0].Type)
		assert.Equal(t, int64(11), rows[1].ID)
	})

	t.Run("wftags only carry arrival tags", func(t *testing.T) {
		rows, err := acct.FindWfTagsByArrivalIDs(ctx, []int64{1})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(1000), rows[0].Key.WfID)
		assert.Equal(t, int64(1001), rows[1].Key.WfID)
	})

	t.Run("wfdiscs", func(t *testing.T) {
		rows, err := acct.FindWfdiscsByIDs(ctx, []int64{1002, 1000})
		require.NoError(t, err)
		assert.Equal(t, []int64{1000, 1002}, wfdiscIDs(rows))

		rows, err = acct.FindWfdiscsCovering(ctx, []legacy.SiteChanKey{
			{Station: "ASAR", Channel: "SHZ", Time: t0.Add(10 * time.Second)},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1000, 1001}, wfdiscIDs(rows))

		rows, err = acct.FindWfdiscsCovering(ctx, []legacy.SiteChanKey{
			{Station: "FITZ", Channel: "BHZ", Time: t0.Add(70 * time.Second)},
			{Station: "FITZ", Channel: "SHZ", Time: t0.Add(10 * time.Second)},
		})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("sites operating in range", func(t *testing.T) {
		rows, err := acct.FindSitesByReferenceStations(ctx, []string{"ASAR"}, t0, t0.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "AS01", rows[0].Station)
		assert.Nil(t, rows[0].OffDate)
	})

	t.Run("filter parameters", func(t *testing.T) {
		arrivalPars, err := acct.FindFilterArrivalDynParsByIDs(ctx, []int64{1, 2})
		require.NoError(t, err)
		require.Len(t, arrivalPars, 2)

		values := map[string]int64{}
		for _, p := range arrivalPars {
			values[p.GroupName] = p.Value
		}

		assert.Equal(t, map[string]int64{"DETECT": 7, "FK": 8}, values)

		ampPars, err := acct.FindFilterAmplitudeDynParsByIDs(ctx, []int64{10, 12})
		require.NoError(t, err)
		require.Len(t, ampPars, 1)
		assert.Equal(t, int64(9), ampPars[0].Value)
		assert.Equal(t, "MEASURE", ampPars[0].GroupName)
	})
}
