package bridge

import (
	"math"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

// amplitudeTolerance is the absolute tolerance for matching an amplitude row's (amp, per)
// to the arrival's own values.
const amplitudeTolerance = 1e-9

// amplitudeSelection is the canonical amplitude of an arrival. lowConfidence is set when
// the choice came from the highest-id fallback rather than a unique value match.
type amplitudeSelection struct {
	amplitude     legacy.Amplitude
	lowConfidence bool
}

// selectAmplitude picks at most one A5/2 amplitude for the arrival: the only candidate
// whose (amp, per) matches the arrival's, otherwise the candidate with the highest id.
// The fallback applies both to ambiguous matches and to no match at all.
func selectAmplitude(arrival legacy.Arrival, candidates []legacy.Amplitude) (amplitudeSelection, bool) {
	var (
		matched  legacy.Amplitude
		matches  int
		highest  legacy.Amplitude
		eligible int
	)

	for _, amp := range candidates {
		if amp.Type != legacy.AmplitudeTypeA5Over2 {
			continue
		}

		if eligible == 0 || amp.ID > highest.ID {
			highest = amp
		}

		eligible++

		if fuzzyEqual(amp.Amplitude, arrival.Amplitude) && fuzzyEqual(amp.Period, arrival.Period) {
			matched = amp
			matches++
		}
	}

	switch {
	case eligible == 0:
		return amplitudeSelection{}, false
	case matches == 1:
		return amplitudeSelection{amplitude: matched}, true
	default:
		return amplitudeSelection{amplitude: highest, lowConfidence: true}, true
	}
}

func fuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) <= amplitudeTolerance
}
