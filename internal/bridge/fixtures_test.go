package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/identity"
	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
	"github.com/correlator-io/sdbridge/internal/storage"
)

const bridgeYAML = `
monitoring_organization: CTBTO
measured_waveform_lead: 5s
measured_waveform_lag: 30s
stages:
  - name: AUTO_NETWORK
    account: soccpro
  - name: AL1
    account: al1
  - name: AL2
    account: al2
    disabled: [ampdynpars_int]
`

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	autoNetwork = stage.New("AUTO_NETWORK")
	al1         = stage.New("AL1")
	al2         = stage.New("AL2")

	errLegacyDown = errors.New("legacy store down")
)

// bridgeFixture is a repository over three in-memory stage accounts.
type bridgeFixture struct {
	repo     *Repository
	registry *identity.Registry
	segments *MemorySegmentCache
	soccpro  *storage.InMemoryAccount
	al1      *storage.InMemoryAccount
	al2      *storage.InMemoryAccount
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTopology(t *testing.T, yaml string) *stage.Topology {
	t.Helper()

	def, err := stage.ParseDefinition([]byte(yaml))
	require.NoError(t, err)

	topo, err := stage.NewTopology(def)
	require.NoError(t, err)

	return topo
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()

	f := &bridgeFixture{
		registry: identity.NewRegistry(identity.WithLogger(quietLogger())),
		segments: NewMemorySegmentCache(),
		soccpro:  storage.NewInMemoryAccount(),
		al1:      storage.NewInMemoryAccount(),
		al2:      storage.NewInMemoryAccount(),
	}

	accounts := storage.NewAccounts()
	accounts.Register("soccpro", f.soccpro)
	accounts.Register("al1", f.al1)
	accounts.Register("al2", f.al2)

	repo, err := NewRepository(newTopology(t, bridgeYAML), accounts, f.registry,
		WithLogger(quietLogger()),
		WithSegmentCache(f.segments))
	require.NoError(t, err)

	f.repo = repo

	return f
}

// arrivalHypothesis returns the id the registry issues for the from-arrival hypothesis.
func (f *bridgeFixture) arrivalHypothesis(account string, arid int64) detection.HypothesisID {
	return detection.HypothesisID{
		DetectionID: f.registry.DetectionIDForArrival(arid),
		ID:          f.registry.HypothesisIDForArrival(account, arid),
	}
}

// assocHypothesis returns the id the registry issues for the from-association hypothesis.
func (f *bridgeFixture) assocHypothesis(account string, arid, orid int64) detection.HypothesisID {
	return detection.HypothesisID{
		DetectionID: f.registry.DetectionIDForArrival(arid),
		ID:          f.registry.HypothesisIDForAssoc(account, arid, orid),
	}
}

func arrival(id int64, station, phase string, offset time.Duration) legacy.Arrival {
	return legacy.Arrival{
		ID:        id,
		Station:   station,
		Channel:   "SHZ",
		Time:      t0.Add(offset),
		Phase:     phase,
		Amplitude: 1.5,
		Period:    0.8,
		LoadDate:  t0,
	}
}

func assoc(arid, orid int64, phase string) legacy.Assoc {
	return legacy.Assoc{
		Key:          legacy.AridOridKey{ArrivalID: arid, OriginID: orid},
		Phase:        phase,
		Distance:     12.5,
		TimeResidual: 0.3,
		LoadDate:     t0,
	}
}

// hourWfdisc covers the first hour of t0 on station/SHZ.
func hourWfdisc(id int64, station string) legacy.Wfdisc {
	return legacy.Wfdisc{
		ID:         id,
		Station:    station,
		Channel:    "SHZ",
		Time:       t0,
		EndTime:    t0.Add(time.Hour),
		SampleRate: 40,
		LoadDate:   t0,
	}
}

func hypothesisByID(t *testing.T, hyps []detection.Hypothesis, id detection.HypothesisID) detection.Hypothesis {
	t.Helper()

	for _, h := range hyps {
		if h.ID == id {
			return h
		}
	}

	require.Failf(t, "hypothesis not found", "id %s", id.ID)

	return detection.Hypothesis{}
}

// failingAccount wraps an account and fails association reads.
type failingAccount struct {
	legacy.Account
}

func (failingAccount) FindAssocsByArrivalIDs(context.Context, []int64) ([]legacy.Assoc, error) {
	return nil, errLegacyDown
}

// countingAccount wraps an account and records the association reads it serves.
type countingAccount struct {
	legacy.Account

	mu        sync.Mutex
	byArrival [][]int64
	byKey     [][]legacy.AridOridKey
}

func (c *countingAccount) FindAssocsByArrivalIDs(ctx context.Context, arids []int64) ([]legacy.Assoc, error) {
	c.mu.Lock()
	c.byArrival = append(c.byArrival, arids)
	c.mu.Unlock()

	return c.Account.FindAssocsByArrivalIDs(ctx, arids)
}

func (c *countingAccount) FindAssocsByKeys(ctx context.Context, keys []legacy.AridOridKey) ([]legacy.Assoc, error) {
	c.mu.Lock()
	c.byKey = append(c.byKey, keys)
	c.mu.Unlock()

	return c.Account.FindAssocsByKeys(ctx, keys)
}

func (c *countingAccount) reads() ([][]int64, [][]legacy.AridOridKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.byArrival, c.byKey
}

// memoryIDStore is an identity.Store over a map. Save fails while err is set.
type memoryIDStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]identity.Entry
	err     error
}

func newMemoryIDStore() *memoryIDStore {
	return &memoryIDStore{entries: make(map[uuid.UUID]identity.Entry)}
}

func (s *memoryIDStore) Save(_ context.Context, entries ...identity.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	for _, e := range entries {
		s.entries[e.ID] = e
	}

	return nil
}

func (s *memoryIDStore) Load(_ context.Context, id uuid.UUID) (identity.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]

	return e, ok, nil
}

func (s *memoryIDStore) has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]

	return ok
}
