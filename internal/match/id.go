package match

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/albapepper/scoracle-sim/internal/league"
)

// ErrBadMatchID rejects identifiers that do not follow the match id format.
var ErrBadMatchID = errors.New("malformed match id")

var idPattern = regexp.MustCompile(`^league-([a-z0-9-]+?)-week-([0-9]+)-match-([0-9]+)-([a-z0-9-]+)-vs-([a-z0-9-]+)$`)

// Coordinates are the parts a match id is made of.
type Coordinates struct {
	LeagueCode string
	Week       int64
	Slot       int
	HomeSlug   string
	AwaySlug   string
}

// FormatID builds league-<code>-week-<n>-match-<idx>-<homeSlug>-vs-<awaySlug>.
// Team names are slugged here; callers pass display names.
func FormatID(leagueCode string, week int64, slot int, home, away string) string {
	return fmt.Sprintf("league-%s-week-%d-match-%d-%s-vs-%s",
		leagueCode, week, slot, league.Slug(home), league.Slug(away))
}

// ParseID splits a match id into its coordinates. It does not check that
// the match exists; use Resolver.ByID for that.
func ParseID(id string) (Coordinates, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return Coordinates{}, fmt.Errorf("%w: %q", ErrBadMatchID, id)
	}
	week, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil || week < 1 {
		return Coordinates{}, fmt.Errorf("%w: week in %q", ErrBadMatchID, id)
	}
	slot, err := strconv.Atoi(m[3])
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: slot in %q", ErrBadMatchID, id)
	}
	return Coordinates{
		LeagueCode: m[1],
		Week:       week,
		Slot:       slot,
		HomeSlug:   m[4],
		AwaySlug:   m[5],
	}, nil
}

// Index maps coordinates back to the schedule index they were minted from.
func (c Coordinates) Index(matchesPerWeek int) (int64, error) {
	if c.Slot < 0 || c.Slot >= matchesPerWeek {
		return 0, fmt.Errorf("%w: slot %d outside week of %d", ErrBadMatchID, c.Slot, matchesPerWeek)
	}
	return (c.Week-1)*int64(matchesPerWeek) + int64(c.Slot), nil
}
