// Package outcome derives the final score of a synthetic match from its
// identifier alone, and stores published results for settlement.
//
// For is the mechanism by which independent clients agree on "what happened"
// without a shared live feed: same match id, same score, forever.
package outcome

import (
	"errors"
	"fmt"

	"github.com/albapepper/scoracle-sim/internal/detrand"
)

// MaxGoals is the exclusive upper bound for either side's goal count.
const MaxGoals = 5

var (
	// ErrScoreInvalid rejects negative or out-of-range goal counts before any write.
	ErrScoreInvalid = errors.New("score invalid")

	// ErrOutcomeImmutable means a final outcome already exists with different values.
	ErrOutcomeImmutable = errors.New("final outcome is immutable")
)

// Outcome is the result of one match. Once IsFinal is true it never changes.
type Outcome struct {
	MatchID   string `json:"match_id"`
	HomeGoals int    `json:"home_goals"`
	AwayGoals int    `json:"away_goals"`
	IsFinal   bool   `json:"is_final"`
}

// String renders the score as "home-away".
func (o Outcome) String() string {
	return fmt.Sprintf("%d-%d", o.HomeGoals, o.AwayGoals)
}

// For returns the deterministic final score for matchID.
//
// The LCG is seeded with FNV-1a(matchID); two draws are taken in fixed order,
// home then away, each scaled into [0, MaxGoals). No side effects.
func For(matchID string) Outcome {
	g := detrand.NewFromString(matchID)
	home := g.Intn(MaxGoals)
	away := g.Intn(MaxGoals)
	return Outcome{MatchID: matchID, HomeGoals: home, AwayGoals: away, IsFinal: true}
}

// Validate enforces the ScoreInvalid rules.
func Validate(o Outcome) error {
	if o.MatchID == "" {
		return fmt.Errorf("%w: empty match id", ErrScoreInvalid)
	}
	if o.HomeGoals < 0 || o.AwayGoals < 0 {
		return fmt.Errorf("%w: negative goals %s for %s", ErrScoreInvalid, o, o.MatchID)
	}
	if o.HomeGoals >= MaxGoals || o.AwayGoals >= MaxGoals {
		return fmt.Errorf("%w: goals %s out of range for %s", ErrScoreInvalid, o, o.MatchID)
	}
	return nil
}
