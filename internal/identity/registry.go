// Package identity translates legacy composite keys into stable opaque identifiers and back.
//
// Identifiers are name-based (UUIDv5) so the same legacy key always produces the same id,
// in this process and in any other. The registry memoizes the reverse mapping so that ids
// handed out to callers can later be decomposed into their legacy keys.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/correlator-io/sdbridge/internal/config"
)

// namespaceText is the UUIDv5 namespace all bridge identifiers are derived in. Changing it
// changes every issued id.
const namespaceText = "7c1e4f0a-5d7b-4c0e-9a51-3f1d2b6e8a90"

var namespace = uuid.MustParse(namespaceText)

// Namespace returns the UUIDv5 namespace of bridge identifiers.
func Namespace() uuid.UUID {
	return namespace
}

var storeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sdbridge",
	Subsystem: "identity",
	Name:      "store_failures_total",
	Help:      "Failed reads and writes of the persistent identity index, by operation.",
}, []string{"operation"})

var (
	// ErrUnknownEntryKind is returned by stores asked to persist an entry with no kind.
	ErrUnknownEntryKind = errors.New("unknown identity entry kind")
)

// EntryKind discriminates the legacy key shape an identifier was derived from.
type EntryKind int

// Entry kinds.
const (
	EntryArrivalHypothesis EntryKind = iota + 1
	EntryAssocHypothesis
	EntryDetection
)

func (k EntryKind) String() string {
	switch k {
	case EntryArrivalHypothesis:
		return "arrival"
	case EntryAssocHypothesis:
		return "assoc"
	case EntryDetection:
		return "detection"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseEntryKind maps the String form of a kind back to the kind.
func ParseEntryKind(s string) (EntryKind, bool) {
	for _, k := range []EntryKind{EntryArrivalHypothesis, EntryAssocHypothesis, EntryDetection} {
		if k.String() == s {
			return k, true
		}
	}

	return 0, false
}

type (
	// ArrivalKey is the legacy key of a hypothesis derived from an arrival.
	ArrivalKey struct {
		Account   string
		ArrivalID int64
	}

	// AssocKey is the legacy key of a hypothesis derived from an association.
	AssocKey struct {
		Account   string
		ArrivalID int64
		OriginID  int64
	}

	// Entry is one issued identifier with the legacy key it decomposes to. Account is
	// empty for detection entries and OriginID is zero unless Kind is EntryAssocHypothesis.
	Entry struct {
		ID        uuid.UUID
		Kind      EntryKind
		Account   string
		ArrivalID int64
		OriginID  int64
	}

	// Store persists the reverse index so ids issued by one process decompose in another.
	// Save writes every entry in one round trip.
	Store interface {
		Save(ctx context.Context, entries ...Entry) error
		Load(ctx context.Context, id uuid.UUID) (Entry, bool, error)
	}

	// Registry is the concurrency-safe key <-> id translation table.
	//
	// Creation is insert-if-absent under a single lock: the first caller for a key records
	// the entry and every later caller observes the same identifier. With a Store, new
	// entries are queued and written by Flush.
	Registry struct {
		mu      sync.RWMutex
		entries map[uuid.UUID]Entry
		pending []Entry
		store   Store
		logger  *slog.Logger
	}

	// Option configures optional Registry behavior.
	Option func(*Registry)
)

// WithStore backs the registry with a persistent reverse index.
func WithStore(s Store) Option {
	return func(r *Registry) {
		r.store = s
	}
}

// WithLogger overrides the default JSON logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[uuid.UUID]Entry),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// HypothesisIDForArrival returns the id of the hypothesis derived from arrival arid in the
// given stage account.
func (r *Registry) HypothesisIDForArrival(account string, arid int64) uuid.UUID {
	return r.issue(Entry{Kind: EntryArrivalHypothesis, Account: account, ArrivalID: arid})
}

// HypothesisIDForAssoc returns the id of the hypothesis derived from association
// (arid, orid) in the given stage account.
func (r *Registry) HypothesisIDForAssoc(account string, arid, orid int64) uuid.UUID {
	return r.issue(Entry{Kind: EntryAssocHypothesis, Account: account, ArrivalID: arid, OriginID: orid})
}

// DetectionIDForArrival returns the id of the signal detection spanning every stage's
// hypotheses for arid.
func (r *Registry) DetectionIDForArrival(arid int64) uuid.UUID {
	return r.issue(Entry{Kind: EntryDetection, ArrivalID: arid})
}

// ArrivalKey decomposes an id issued by HypothesisIDForArrival. ctx bounds the store read
// for ids not memoized in this process.
func (r *Registry) ArrivalKey(ctx context.Context, id uuid.UUID) (ArrivalKey, bool) {
	e, ok := r.lookup(ctx, id)
	if !ok || e.Kind != EntryArrivalHypothesis {
		return ArrivalKey{}, false
	}

	return ArrivalKey{Account: e.Account, ArrivalID: e.ArrivalID}, true
}

// AssocKey decomposes an id issued by HypothesisIDForAssoc.
func (r *Registry) AssocKey(ctx context.Context, id uuid.UUID) (AssocKey, bool) {
	e, ok := r.lookup(ctx, id)
	if !ok || e.Kind != EntryAssocHypothesis {
		return AssocKey{}, false
	}

	return AssocKey{Account: e.Account, ArrivalID: e.ArrivalID, OriginID: e.OriginID}, true
}

// ArrivalForDetection decomposes an id issued by DetectionIDForArrival.
func (r *Registry) ArrivalForDetection(ctx context.Context, id uuid.UUID) (int64, bool) {
	e, ok := r.lookup(ctx, id)
	if !ok || e.Kind != EntryDetection {
		return 0, false
	}

	return e.ArrivalID, true
}

// Len returns the number of memoized entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Pending returns the number of entries not yet written to the store.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.pending)
}

// Flush writes the queued entries to the store in one call. On failure the entries stay
// queued for the next Flush and the failure is counted.
func (r *Registry) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := r.store.Save(ctx, batch...); err != nil {
		storeFailures.WithLabelValues("save").Inc()

		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()

		return fmt.Errorf("persist %d identity entries: %w", len(batch), err)
	}

	return nil
}

func (r *Registry) issue(e Entry) uuid.UUID {
	e.ID = uuid.NewSHA1(namespace, []byte(e.name()))

	r.mu.RLock()
	_, known := r.entries[e.ID]
	r.mu.RUnlock()

	if known {
		return e.ID
	}

	r.mu.Lock()
	if _, known = r.entries[e.ID]; known {
		r.mu.Unlock()

		return e.ID
	}

	r.entries[e.ID] = e
	if r.store != nil {
		r.pending = append(r.pending, e)
	}
	r.mu.Unlock()

	return e.ID
}

func (r *Registry) lookup(ctx context.Context, id uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if ok || r.store == nil {
		return e, ok
	}

	e, ok, err := r.store.Load(ctx, id)
	if err != nil {
		storeFailures.WithLabelValues("load").Inc()
		r.logger.Warn("Failed to load identity entry",
			slog.String("id", id.String()),
			slog.String("error", err.Error()))

		return Entry{}, false
	}

	if !ok {
		return Entry{}, false
	}

	r.mu.Lock()
	if existing, known := r.entries[id]; known {
		e = existing
	} else {
		r.entries[id] = e
	}
	r.mu.Unlock()

	return e, true
}

// name is the UUIDv5 name of the entry's legacy key.
func (e Entry) name() string {
	switch e.Kind {
	case EntryArrivalHypothesis:
		return fmt.Sprintf("arrival:%s:%d", e.Account, e.ArrivalID)
	case EntryAssocHypothesis:
		return fmt.Sprintf("assoc:%s:%d:%d", e.Account, e.ArrivalID, e.OriginID)
	default:
		return fmt.Sprintf("detection:%d", e.ArrivalID)
	}
}
