package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/match"
)

// Supported bet types.
const (
	BetMatchResult  = "1x2"
	BetDoubleChance = "double_chance"
	BetOverUnder    = "over_under"
	BetBTTS         = "btts"
	BetCorrectScore = "correct_score"
)

var (
	// ErrUnknownBetType and ErrBadSelection void a wager on a finished match.
	ErrUnknownBetType = errors.New("unknown bet type")
	ErrBadSelection   = errors.New("unparseable selection")
)

// Evaluate decides won or lost for a wager against usable scores. A non-nil
// error explains why the wager cannot be judged; the caller voids it.
func Evaluate(w Wager, s Scores) (Status, error) {
	if !s.HasScores {
		return StatusVoid, fmt.Errorf("no usable scores")
	}
	sel := strings.TrimSpace(w.Selection)

	switch strings.ToLower(strings.TrimSpace(w.BetType)) {
	case BetMatchResult, "match_result", "match_winner":
		pick, err := resultPick(sel, w.MatchID)
		if err != nil {
			return StatusVoid, err
		}
		return wonIf(pick == resultOf(s)), nil

	case BetDoubleChance:
		picks, err := doubleChance(sel)
		if err != nil {
			return StatusVoid, err
		}
		return wonIf(strings.ContainsRune(picks, resultOf(s))), nil

	case BetOverUnder:
		over, line, err := overUnder(sel)
		if err != nil {
			return StatusVoid, err
		}
		total := decimal.NewFromInt(int64(s.Home + s.Away))
		if total.Equal(line) {
			return StatusVoid, nil // push
		}
		return wonIf(total.GreaterThan(line) == over), nil

	case BetBTTS, "both_teams_to_score":
		both := s.Home > 0 && s.Away > 0
		switch strings.ToLower(sel) {
		case "yes", "y":
			return wonIf(both), nil
		case "no", "n":
			return wonIf(!both), nil
		}
		return StatusVoid, fmt.Errorf("%w: btts %q", ErrBadSelection, sel)

	case BetCorrectScore:
		h, a, ok := ParseScore(sel)
		if !ok {
			return StatusVoid, fmt.Errorf("%w: correct score %q", ErrBadSelection, sel)
		}
		return wonIf(h == s.Home && a == s.Away), nil
	}
	return StatusVoid, fmt.Errorf("%w: %q", ErrUnknownBetType, w.BetType)
}

func wonIf(ok bool) Status {
	if ok {
		return StatusWon
	}
	return StatusLost
}

// resultOf is '1', 'X' or '2'.
func resultOf(s Scores) rune {
	switch {
	case s.Home > s.Away:
		return '1'
	case s.Home < s.Away:
		return '2'
	default:
		return 'X'
	}
}

// resultPick accepts 1/X/2, home/draw/away or a team name from the match id.
func resultPick(sel, matchID string) (rune, error) {
	switch strings.ToLower(sel) {
	case "1", "home":
		return '1', nil
	case "x", "draw", "tie":
		return 'X', nil
	case "2", "away":
		return '2', nil
	}
	if c, err := match.ParseID(matchID); err == nil {
		switch league.Slug(sel) {
		case c.HomeSlug:
			return '1', nil
		case c.AwaySlug:
			return '2', nil
		}
	}
	return 0, fmt.Errorf("%w: 1x2 %q", ErrBadSelection, sel)
}

func doubleChance(sel string) (string, error) {
	switch strings.ToUpper(strings.ReplaceAll(sel, " ", "")) {
	case "1X", "X1":
		return "1X", nil
	case "12", "21":
		return "12", nil
	case "X2", "2X":
		return "X2", nil
	}
	return "", fmt.Errorf("%w: double chance %q", ErrBadSelection, sel)
}

// overUnder reads "over 2.5", "under 3" or "o2.5".
func overUnder(sel string) (bool, decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(sel))
	var over bool
	switch {
	case strings.HasPrefix(s, "over"):
		over, s = true, s[len("over"):]
	case strings.HasPrefix(s, "under"):
		s = s[len("under"):]
	case strings.HasPrefix(s, "o"):
		over, s = true, s[1:]
	case strings.HasPrefix(s, "u"):
		s = s[1:]
	default:
		return false, decimal.Zero, fmt.Errorf("%w: over/under %q", ErrBadSelection, sel)
	}
	line, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || line.IsNegative() {
		return false, decimal.Zero, fmt.Errorf("%w: over/under %q", ErrBadSelection, sel)
	}
	return over, line, nil
}
