package bridge

import (
	"log/slog"

	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
)

// AccountOpener resolves a legacy account name to the connectors reading it.
type AccountOpener interface {
	Open(account string) (legacy.Account, bool)
}

// stageConnectors holds the connectors configured for one stage. A nil field means no
// connector of that kind exists for the stage, which is a normal condition.
type stageConnectors struct {
	stage   stage.Stage
	account string // primary account, the one hypothesis ids are issued against

	arrival        legacy.ArrivalConnector
	assoc          legacy.AssocConnector
	amplitude      legacy.AmplitudeConnector
	wftag          legacy.WfTagConnector
	wfdisc         legacy.WfdiscConnector
	site           legacy.SiteConnector
	arrivalDynPars legacy.ArrivalDynParsIntConnector
	ampDynPars     legacy.AmplitudeDynParsIntConnector
}

// connectors resolves the connectors of s (Current) or of its predecessor (Previous).
// The second return is false when the direction names no stage.
func (r *Repository) connectors(s stage.Stage, dir stage.Direction) (stageConnectors, bool) {
	target := s
	if dir == stage.Previous {
		prev, ok := r.topology.Predecessor(s)
		if !ok {
			return stageConnectors{}, false
		}

		target = prev
	}

	account, ok := r.topology.AccountFor(target)
	if !ok {
		return stageConnectors{}, false
	}

	c := stageConnectors{stage: target, account: account}

	open := func(kind legacy.Kind) legacy.Account {
		name, ok := r.topology.Account(s, kind, dir)
		if !ok {
			return nil
		}

		acct, ok := r.accounts.Open(name)
		if !ok {
			r.logger.Warn("Legacy account is not available",
				slog.String("stage", target.Name),
				slog.String("kind", kind.String()),
				slog.String("account", name))

			return nil
		}

		return acct
	}

	if a := open(legacy.KindArrival); a != nil {
		c.arrival = a
	}

	if a := open(legacy.KindAssoc); a != nil {
		c.assoc = a
	}

	if a := open(legacy.KindAmplitude); a != nil {
		c.amplitude = a
	}

	if a := open(legacy.KindWfTag); a != nil {
		c.wftag = a
	}

	if a := open(legacy.KindWfdisc); a != nil {
		c.wfdisc = a
	}

	if a := open(legacy.KindSite); a != nil {
		c.site = a
	}

	if a := open(legacy.KindArrivalDynParsInt); a != nil {
		c.arrivalDynPars = a
	}

	if a := open(legacy.KindAmplitudeDynParsInt); a != nil {
		c.ampDynPars = a
	}

	return c, true
}
