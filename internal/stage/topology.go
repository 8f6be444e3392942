package stage

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

// Direction selects the stage a connector is looked up for, relative to a requested stage.
type Direction int

const (
	// Current is the requested stage itself.
	Current Direction = iota
	// Previous is the stage immediately before the requested stage.
	Previous
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}

	return "current"
}

type (
	// Stage is one pass in the ordered sequence of processing passes.
	Stage struct {
		Name string
	}

	// Topology resolves stage order and the (stage, kind) -> account table.
	// Immutable after construction and safe for concurrent use.
	Topology struct {
		definition *Definition
		order      []Stage
		index      map[string]int
		byAccount  map[string]Stage
		accounts   map[string]map[legacy.Kind]string
	}
)

// New returns a stage with the given name.
func New(name string) Stage {
	return Stage{Name: name}
}

func (s Stage) String() string {
	return s.Name
}

// NewTopology builds the topology from a validated definition.
func NewTopology(def *Definition) (*Topology, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	t := &Topology{
		definition: def,
		order:      make([]Stage, 0, len(def.Stages)),
		index:      make(map[string]int, len(def.Stages)),
		byAccount:  make(map[string]Stage, len(def.Stages)),
		accounts:   make(map[string]map[legacy.Kind]string, len(def.Stages)),
	}

	for i, sd := range def.Stages {
		s := New(sd.Name)
		t.order = append(t.order, s)
		t.index[sd.Name] = i
		t.byAccount[sd.Account] = s

		disabled := make(map[legacy.Kind]bool, len(sd.Disabled))
		for _, name := range sd.Disabled {
			k, _ := legacy.ParseKind(name)
			disabled[k] = true
		}

		byKind := make(map[legacy.Kind]string, len(legacy.Kinds()))
		for _, k := range legacy.Kinds() {
			if disabled[k] {
				continue
			}

			account := sd.Account
			if override, ok := sd.Accounts[k.String()]; ok {
				account = override
			}

			byKind[k] = account
		}

		t.accounts[sd.Name] = byKind
	}

	return t, nil
}

// Stages returns the configured stages in order.
func (t *Topology) Stages() []Stage {
	out := make([]Stage, len(t.order))
	copy(out, t.order)

	return out
}

// Contains reports whether the stage is configured.
func (t *Topology) Contains(s Stage) bool {
	_, ok := t.index[s.Name]

	return ok
}

// Index returns the position of the stage in the configured order.
func (t *Topology) Index(s Stage) (int, bool) {
	i, ok := t.index[s.Name]

	return i, ok
}

// Predecessor returns the stage immediately before s. The first stage and unknown
// stages have no predecessor.
func (t *Topology) Predecessor(s Stage) (Stage, bool) {
	i, ok := t.index[s.Name]
	if !ok || i == 0 {
		return Stage{}, false
	}

	return t.order[i-1], true
}

// AccountFor returns the primary legacy account of the stage.
func (t *Topology) AccountFor(s Stage) (string, bool) {
	i, ok := t.index[s.Name]
	if !ok {
		return "", false
	}

	return t.definition.Stages[i].Account, true
}

// StageForAccount returns the stage whose primary account is the given account.
func (t *Topology) StageForAccount(account string) (Stage, bool) {
	s, ok := t.byAccount[account]

	return s, ok
}

// Account returns the account backing the kind for the stage (Current) or for its
// predecessor (Previous). The second return is false when no such connector exists.
func (t *Topology) Account(s Stage, kind legacy.Kind, dir Direction) (string, bool) {
	target := s
	if dir == Previous {
		prev, ok := t.Predecessor(s)
		if !ok {
			return "", false
		}

		target = prev
	}

	byKind, ok := t.accounts[target.Name]
	if !ok {
		return "", false
	}

	account, ok := byKind[kind]

	return account, ok
}

// ConnectorExists reports whether a connector is configured for the kind and direction.
func (t *Topology) ConnectorExists(s Stage, kind legacy.Kind, dir Direction) bool {
	_, ok := t.Account(s, kind, dir)

	return ok
}

// AccountNames returns every legacy account referenced by the topology, sorted.
func (t *Topology) AccountNames() []string {
	seen := make(map[string]struct{})

	for _, byKind := range t.accounts {
		for _, account := range byKind {
			seen[account] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(seen))
}

// MonitoringOrganization returns the organization stamped on detections.
func (t *Topology) MonitoringOrganization() string {
	return t.definition.MonitoringOrganization
}

// MeasuredWaveformLead is subtracted from the start of station/time arrival scans.
func (t *Topology) MeasuredWaveformLead() time.Duration {
	return t.definition.MeasuredWaveformLead
}

// MeasuredWaveformLag is added to the end of station/time arrival scans.
func (t *Topology) MeasuredWaveformLag() time.Duration {
	return t.definition.MeasuredWaveformLag
}
