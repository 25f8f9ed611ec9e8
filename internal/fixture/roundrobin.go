package fixture

import (
	"fmt"

	"github.com/albapepper/scoracle-sim/internal/detrand"
)

// Shuffle returns a seeded Fisher–Yates permutation of teams. The input is
// not modified.
func Shuffle(teams []string, seed uint32) []string {
	out := append([]string(nil), teams...)
	detrand.Shuffle(detrand.New(seed), out)
	return out
}

// Roster drops the last entry of an odd roster. Generation applies it before
// the shuffle so every cycle of a league uses the same teams.
func Roster(teams []string) []string {
	if len(teams)%2 == 1 {
		return teams[:len(teams)-1]
	}
	return teams
}

// RoundRobin builds horizonWeeks weeks with the circle method: team 0 stays
// fixed, team i meets team n-1-i, then every other team rotates one place.
// The n-1 distinct rounds repeat modulo once the horizon exceeds them.
//
// An odd roster loses its last entry. The fixed team alternates home and away
// by round; the rotating teams alternate by slot as they move through it, so
// home counts differ by at most one across the league.
func RoundRobin(teams []string, horizonWeeks int) ([][]Pairing, error) {
	n := len(teams)
	if n%2 == 1 {
		n--
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: %d usable teams", ErrRosterTooSmall, n)
	}
	if horizonWeeks < 1 {
		horizonWeeks = n - 1
	}

	arr := append([]string(nil), teams[:n]...)
	rounds := make([][]Pairing, 0, n-1)
	for r := 0; r < n-1; r++ {
		week := make([]Pairing, 0, n/2)
		for i := 0; i < n/2; i++ {
			home, away := arr[i], arr[n-1-i]
			if (i == 0 && r%2 == 1) || (i > 0 && i%2 == 1) {
				home, away = away, home
			}
			week = append(week, Pairing{Home: home, Away: away})
		}
		rounds = append(rounds, week)

		// Rotate arr[1:] right by one.
		last := arr[n-1]
		copy(arr[2:], arr[1:n-1])
		arr[1] = last
	}

	weeks := make([][]Pairing, horizonWeeks)
	for w := range weeks {
		weeks[w] = rounds[w%len(rounds)]
	}
	return weeks, nil
}
