package match

import "github.com/terravia-group/roadops-cli/internal/model"

// Resolution statuses.
const (
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
)

// Unresolved reasons.
const (
	ReasonNoCandidates  = "no_candidates"
	ReasonAmbiguous     = "ambiguous"
	ReasonLowConfidence = "low_confidence"
)

// Outcome is the result of resolving a scored candidate set.
type Outcome struct {
	Status string
	// Reason is set when Status is StatusUnresolved.
	Reason string
	// Winner is set when Status is StatusResolved.
	Winner *model.CandidateMatch
	// TieBreak reports that multiple high-confidence candidates were
	// present and the winner was chosen by time proximity. Callers
	// surface this as an operator warning.
	TieBreak bool
	// Contenders holds all high-tier candidates on a tie-break, for the
	// operator warning.
	Contenders []model.CandidateMatch
}

// Resolve picks at most one winning survey from a scored candidate set.
//
// A single high-confidence candidate wins outright. Multiple highs are
// resolved to the closest in time, flagged as a tie-break. Multiple
// medium-confidence candidates are deliberately left unresolved: an
// unmatched record is recoverable, a wrong match corrupts downstream
// aggregates with no audit trail. Pure function of its input.
func Resolve(matches []model.CandidateMatch) Outcome {
	if len(matches) == 0 {
		return Outcome{Status: StatusUnresolved, Reason: ReasonNoCandidates}
	}

	var highs, meds []model.CandidateMatch
	for _, m := range matches {
		switch m.Tier {
		case model.TierHigh:
			highs = append(highs, m)
		case model.TierMedium:
			meds = append(meds, m)
		}
	}

	if len(highs) == 1 {
		return Outcome{Status: StatusResolved, Winner: &highs[0]}
	}
	if len(highs) > 1 {
		winner := highs[0]
		for _, m := range highs[1:] {
			if m.TimeDelta < winner.TimeDelta {
				winner = m
			}
		}
		return Outcome{
			Status:     StatusResolved,
			Winner:     &winner,
			TieBreak:   true,
			Contenders: highs,
		}
	}

	switch len(meds) {
	case 0:
		return Outcome{Status: StatusUnresolved, Reason: ReasonLowConfidence}
	case 1:
		return Outcome{Status: StatusResolved, Winner: &meds[0]}
	default:
		return Outcome{Status: StatusUnresolved, Reason: ReasonAmbiguous}
	}
}
