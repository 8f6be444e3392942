package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/legacy"
)

var (
	// ErrLegacyQueryFailed is returned when a query against a legacy schema fails.
	ErrLegacyQueryFailed = errors.New("legacy query failed")

	// ErrInvalidSchema is returned when an account is created with an empty schema name.
	ErrInvalidSchema = errors.New("legacy schema name cannot be empty")
)

type (
	// PostgresAccount reads the legacy tables of one account. Each account is a PostgreSQL
	// schema holding the arrival, assoc, amplitude, wftag, wfdisc, site, arrival_dynpars_int
	// and ampdynpars_int tables.
	//
	// Times in the legacy tables are epoch seconds (double precision); load dates are
	// timestamptz.
	PostgresAccount struct {
		conn    *Connection
		schema  string
		quoted  string
		limiter *rate.Limiter
		logger  *slog.Logger
	}

	// PostgresAccountOption configures a PostgresAccount.
	PostgresAccountOption func(*PostgresAccount)

	rowScanner interface {
		Scan(dest ...any) error
	}
)

// Compile-time check that PostgresAccount implements every legacy connector.
var _ legacy.Account = (*PostgresAccount)(nil)

// WithQueryLimiter throttles every query issued by the account. Accounts sharing one
// limiter share its budget.
func WithQueryLimiter(l *rate.Limiter) PostgresAccountOption {
	return func(a *PostgresAccount) {
		a.limiter = l
	}
}

// NewPostgresAccount creates the connectors of the legacy account stored in schema.
func NewPostgresAccount(conn *Connection, schema string, opts ...PostgresAccountOption) (*PostgresAccount, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if strings.TrimSpace(schema) == "" {
		return nil, ErrInvalidSchema
	}

	a := &PostgresAccount{
		conn:   conn,
		schema: schema,
		quoted: pq.QuoteIdentifier(schema),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})).With(slog.String("account", schema)),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Schema returns the account's schema name.
func (a *PostgresAccount) Schema() string {
	return a.schema
}

// FindArrivalsByIDs implements legacy.ArrivalConnector.
func (a *PostgresAccount) FindArrivalsByIDs(ctx context.Context, arids []int64) ([]legacy.Arrival, error) {
	if len(arids) == 0 {
		return []legacy.Arrival{}, nil
	}

	query := `SELECT arid, sta, chan, time, iphase, amp, per, lddate
		FROM ` + a.table("arrival") + `
		WHERE arid = ANY($1)
		ORDER BY arid`

	return queryRows(ctx, a, "arrival", query, scanArrival, pq.Array(arids))
}

// FindArrivals implements legacy.ArrivalConnector.
func (a *PostgresAccount) FindArrivals(ctx context.Context, q legacy.ArrivalTimeQuery) ([]legacy.Arrival, error) {
	if len(q.Stations) == 0 {
		return []legacy.Arrival{}, nil
	}

	// A NULL array would make the NOT ANY predicate NULL and drop every row.
	excluded := append([]int64{}, q.Excluded...)

	query := `SELECT arid, sta, chan, time, iphase, amp, per, lddate
		FROM ` + a.table("arrival") + `
		WHERE sta = ANY($1)
		  AND time BETWEEN $2 AND $3
		  AND NOT (arid = ANY($4))
		ORDER BY arid`

	return queryRows(ctx, a, "arrival", query, scanArrival,
		pq.Array(q.Stations),
		toEpoch(q.Start.Add(-q.Lead)),
		toEpoch(q.End.Add(q.Lag)),
		pq.Array(excluded))
}

// FindAssocsByArrivalIDs implements legacy.AssocConnector.
func (a *PostgresAccount) FindAssocsByArrivalIDs(ctx context.Context, arids []int64) ([]legacy.Assoc, error) {
	if len(arids) == 0 {
		return []legacy.Assoc{}, nil
	}

	query := `SELECT arid, orid, phase, delta, timeres, lddate
		FROM ` + a.table("assoc") + `
		WHERE arid = ANY($1)
		ORDER BY arid, orid`

	return queryRows(ctx, a, "assoc", query, scanAssoc, pq.Array(arids))
}

// FindAssocsByKeys implements legacy.AssocConnector.
func (a *PostgresAccount) FindAssocsByKeys(ctx context.Context, keys []legacy.AridOridKey) ([]legacy.Assoc, error) {
	if len(keys) == 0 {
		return []legacy.Assoc{}, nil
	}

	arids := make([]int64, len(keys))
	orids := make([]int64, len(keys))

	for i, k := range keys {
		arids[i] = k.ArrivalID
		orids[i] = k.OriginID
	}

	query := `SELECT a.arid, a.orid, a.phase, a.delta, a.timeres, a.lddate
		FROM ` + a.table("assoc") + ` a
		JOIN unnest($1::bigint[], $2::bigint[]) AS k(arid, orid)
		  ON a.arid = k.arid AND a.orid = k.orid
		ORDER BY a.arid, a.orid`

	return queryRows(ctx, a, "assoc", query, scanAssoc, pq.Array(arids), pq.Array(orids))
}

// FindAmplitudesByArrivalIDs implements legacy.AmplitudeConnector.
func (a *PostgresAccount) FindAmplitudesByArrivalIDs(ctx context.Context, arids []int64) ([]legacy.Amplitude, error) {
	if len(arids) == 0 {
		return []legacy.Amplitude{}, nil
	}

	query := `SELECT ampid, arid, amptype, amp, per, chan, amptime, lddate
		FROM ` + a.table("amplitude") + `
		WHERE arid = ANY($1)
		ORDER BY ampid`

	return queryRows(ctx, a, "amplitude", query, func(row rowScanner) (legacy.Amplitude, error) {
		var (
			amp     legacy.Amplitude
			amptime float64
		)

		err := row.Scan(&amp.ID, &amp.ArrivalID, &amp.Type, &amp.Amplitude, &amp.Period,
			&amp.Channel, &amptime, &amp.LoadDate)
		amp.Time = fromEpoch(amptime)

		return amp, err
	}, pq.Array(arids))
}

// FindWfTagsByArrivalIDs implements legacy.WfTagConnector.
func (a *PostgresAccount) FindWfTagsByArrivalIDs(ctx context.Context, arids []int64) ([]legacy.WfTag, error) {
	if len(arids) == 0 {
		return []legacy.WfTag{}, nil
	}

	query := `SELECT tagname, tagid, wfid, lddate
		FROM ` + a.table("wftag") + `
		WHERE tagname = $1 AND tagid = ANY($2)
		ORDER BY tagid, wfid`

	return queryRows(ctx, a, "wftag", query, func(row rowScanner) (legacy.WfTag, error) {
		var tag legacy.WfTag

		err := row.Scan(&tag.Key.TagName, &tag.Key.ID, &tag.Key.WfID, &tag.LoadDate)

		return tag, err
	}, legacy.WfTagNameArrival, pq.Array(arids))
}

// FindWfdiscsByIDs implements legacy.WfdiscConnector.
func (a *PostgresAccount) FindWfdiscsByIDs(ctx context.Context, wfids []int64) ([]legacy.Wfdisc, error) {
	if len(wfids) == 0 {
		return []legacy.Wfdisc{}, nil
	}

	query := `SELECT wfid, sta, chan, time, endtime, samprate, lddate
		FROM ` + a.table("wfdisc") + `
		WHERE wfid = ANY($1)
		ORDER BY wfid`

	return queryRows(ctx, a, "wfdisc", query, scanWfdisc, pq.Array(wfids))
}

// FindWfdiscsCovering implements legacy.WfdiscConnector.
func (a *PostgresAccount) FindWfdiscsCovering(ctx context.Context, keys []legacy.SiteChanKey) ([]legacy.Wfdisc, error) {
	if len(keys) == 0 {
		return []legacy.Wfdisc{}, nil
	}

	stations := make([]string, len(keys))
	channels := make([]string, len(keys))
	times := make([]float64, len(keys))

	for i, k := range keys {
		stations[i] = k.Station
		channels[i] = k.Channel
		times[i] = toEpoch(k.Time)
	}

	query := `SELECT DISTINCT w.wfid, w.sta, w.chan, w.time, w.endtime, w.samprate, w.lddate
		FROM ` + a.table("wfdisc") + ` w
		JOIN unnest($1::text[], $2::text[], $3::float8[]) AS k(sta, chan, t)
		  ON w.sta = k.sta AND w.chan = k.chan AND k.t BETWEEN w.time AND w.endtime
		ORDER BY w.wfid`

	return queryRows(ctx, a, "wfdisc", query, scanWfdisc,
		pq.Array(stations), pq.Array(channels), pq.Array(times))
}

// FindSitesByReferenceStations implements legacy.SiteConnector. A site matches when its
// operating period overlaps [start, end].
func (a *PostgresAccount) FindSitesByReferenceStations(
	ctx context.Context,
	referenceStations []string,
	start, end time.Time,
) ([]legacy.Site, error) {
	if len(referenceStations) == 0 {
		return []legacy.Site{}, nil
	}

	query := `SELECT sta, refsta, ondate, offdate
		FROM ` + a.table("site") + `
		WHERE refsta = ANY($1)
		  AND ondate <= $3
		  AND (offdate IS NULL OR offdate >= $2)
		ORDER BY sta, ondate`

	return queryRows(ctx, a, "site", query, func(row rowScanner) (legacy.Site, error) {
		var (
			site    legacy.Site
			offDate sql.NullTime
		)

		err := row.Scan(&site.Station, &site.ReferenceStation, &site.OnDate, &offDate)
		if offDate.Valid {
			site.OffDate = &offDate.Time
		}

		return site, err
	}, pq.Array(referenceStations), start, end)
}

// FindFilterArrivalDynParsByIDs implements legacy.ArrivalDynParsIntConnector.
func (a *PostgresAccount) FindFilterArrivalDynParsByIDs(
	ctx context.Context,
	arids []int64,
) ([]legacy.ArrivalDynParsInt, error) {
	if len(arids) == 0 {
		return []legacy.ArrivalDynParsInt{}, nil
	}

	query := `SELECT arid, group_name, param_name, value
		FROM ` + a.table("arrival_dynpars_int") + `
		WHERE param_name = $1 AND arid = ANY($2)
		ORDER BY arid, group_name`

	return queryRows(ctx, a, "arrival_dynpars_int", query, func(row rowScanner) (legacy.ArrivalDynParsInt, error) {
		var p legacy.ArrivalDynParsInt

		err := row.Scan(&p.ArrivalID, &p.GroupName, &p.ParamName, &p.Value)

		return p, err
	}, legacy.FilterParamName, pq.Array(arids))
}

// FindFilterAmplitudeDynParsByIDs implements legacy.AmplitudeDynParsIntConnector.
func (a *PostgresAccount) FindFilterAmplitudeDynParsByIDs(
	ctx context.Context,
	ampids []int64,
) ([]legacy.AmplitudeDynParsInt, error) {
	if len(ampids) == 0 {
		return []legacy.AmplitudeDynParsInt{}, nil
	}

	query := `SELECT ampid, group_name, param_name, value
		FROM ` + a.table("ampdynpars_int") + `
		WHERE param_name = $1 AND ampid = ANY($2)
		ORDER BY ampid, group_name`

	return queryRows(ctx, a, "ampdynpars_int", query, func(row rowScanner) (legacy.AmplitudeDynParsInt, error) {
		var p legacy.AmplitudeDynParsInt

		err := row.Scan(&p.AmplitudeID, &p.GroupName, &p.ParamName, &p.Value)

		return p, err
	}, legacy.FilterParamName, pq.Array(ampids))
}

func (a *PostgresAccount) table(name string) string {
	return a.quoted + "." + pq.QuoteIdentifier(name)
}

// queryRows runs query after waiting on the account's limiter and scans every row.
func queryRows[T any](
	ctx context.Context,
	a *PostgresAccount,
	table string,
	query string,
	scan func(rowScanner) (T, error),
	args ...any,
) ([]T, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s.%s: throttled: %w", ErrLegacyQueryFailed, a.schema, table, err)
		}
	}

	start := time.Now()

	rows, err := a.conn.QueryContext(ctx, query, args...)
	if err != nil {
		if isDatabaseConnectionError(err) {
			a.logger.Error("Legacy store connection failure",
				slog.String("table", table),
				slog.String("error", err.Error()))
		}

		return nil, fmt.Errorf("%w: %s.%s: %w", ErrLegacyQueryFailed, a.schema, table, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	out := []T{}

	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: scan: %w", ErrLegacyQueryFailed, a.schema, table, err)
		}

		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrLegacyQueryFailed, a.schema, table, err)
	}

	a.logger.Debug("Legacy query completed",
		slog.String("table", table),
		slog.Int("rows", len(out)),
		slog.Duration("duration", time.Since(start)))

	return out, nil
}

func scanArrival(row rowScanner) (legacy.Arrival, error) {
	var (
		arrival legacy.Arrival
		epoch   float64
	)

	err := row.Scan(&arrival.ID, &arrival.Station, &arrival.Channel, &epoch, &arrival.Phase,
		&arrival.Amplitude, &arrival.Period, &arrival.LoadDate)
	arrival.Time = fromEpoch(epoch)

	return arrival, err
}

func scanAssoc(row rowScanner) (legacy.Assoc, error) {
	var assoc legacy.Assoc

	err := row.Scan(&assoc.Key.ArrivalID, &assoc.Key.OriginID, &assoc.Phase, &assoc.Distance,
		&assoc.TimeResidual, &assoc.LoadDate)

	return assoc, err
}

func scanWfdisc(row rowScanner) (legacy.Wfdisc, error) {
	var (
		w          legacy.Wfdisc
		start, end float64
	)

	err := row.Scan(&w.ID, &w.Station, &w.Channel, &start, &end, &w.SampleRate, &w.LoadDate)
	w.Time = fromEpoch(start)
	w.EndTime = fromEpoch(end)

	return w, err
}

// toEpoch converts t to legacy epoch seconds.
func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// fromEpoch converts legacy epoch seconds to UTC, rounded to the microsecond the legacy
// store can represent.
func fromEpoch(epoch float64) time.Time {
	micros := math.Round(epoch * 1e6)

	return time.UnixMicro(int64(micros)).UTC()
}

// isDatabaseConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08) and standard database/sql errors.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
