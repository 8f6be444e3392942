package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/identity"
)

var (
	// ErrIDStoreFailed is returned when the identity reverse index cannot be read or written.
	ErrIDStoreFailed = errors.New("identity store operation failed")
)

// IDStore persists the identity registry's reverse index in the sdbridge_ids table.
type IDStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time check that IDStore implements identity.Store.
var _ identity.Store = (*IDStore)(nil)

// NewIDStore creates a PostgreSQL-backed identity store.
func NewIDStore(conn *Connection) (*IDStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &IDStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Save records entries in one statement. Saving an id that already exists is a no-op:
// ids are derived from their keys, so an existing row always holds the same key.
func (s *IDStore) Save(ctx context.Context, entries ...identity.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var (
		ids      = make([]string, len(entries))
		kinds    = make([]string, len(entries))
		accounts = make([]string, len(entries))
		arids    = make([]int64, len(entries))
		orids    = make([]int64, len(entries))
	)

	for i, entry := range entries {
		if entry.ID == uuid.Nil {
			return fmt.Errorf("%w: nil id", ErrIDStoreFailed)
		}

		if _, ok := identity.ParseEntryKind(entry.Kind.String()); !ok {
			return fmt.Errorf("%w: %w: %s", ErrIDStoreFailed, identity.ErrUnknownEntryKind, entry.Kind)
		}

		ids[i] = entry.ID.String()
		kinds[i] = entry.Kind.String()
		accounts[i] = entry.Account
		arids[i] = entry.ArrivalID
		orids[i] = entry.OriginID
	}

	query := `
		INSERT INTO sdbridge_ids (id, kind, account, arid, orid)
		SELECT * FROM unnest($1::uuid[], $2::text[], $3::text[], $4::bigint[], $5::bigint[])
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.conn.ExecContext(ctx, query,
		pq.Array(ids), pq.Array(kinds), pq.Array(accounts), pq.Array(arids), pq.Array(orids))
	if err != nil {
		if isDatabaseConnectionError(err) {
			s.logger.Error("Identity store connection failure", slog.String("error", err.Error()))
		}

		return fmt.Errorf("%w: save %d entries: %w", ErrIDStoreFailed, len(entries), err)
	}

	return nil
}

// Load returns the entry stored for id.
func (s *IDStore) Load(ctx context.Context, id uuid.UUID) (identity.Entry, bool, error) {
	query := `SELECT kind, account, arid, orid FROM sdbridge_ids WHERE id = $1`

	var (
		kind  string
		entry = identity.Entry{ID: id}
	)

	err := s.conn.QueryRowContext(ctx, query, id).Scan(&kind, &entry.Account, &entry.ArrivalID, &entry.OriginID)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Entry{}, false, nil
	}

	if err != nil {
		return identity.Entry{}, false, fmt.Errorf("%w: load %s: %w", ErrIDStoreFailed, id, err)
	}

	k, ok := identity.ParseEntryKind(kind)
	if !ok {
		return identity.Entry{}, false, fmt.Errorf("%w: %w: %q", ErrIDStoreFailed, identity.ErrUnknownEntryKind, kind)
	}

	entry.Kind = k

	return entry, true, nil
}
