// Package fixture builds, per league, cycles of round-robin pairings and
// guarantees that no week's pairing list repeats one used in an earlier cycle.
//
// Generation is rare and serialised per league (Locker plus a unique
// constraint on league/cycle). A published cycle is immutable.
package fixture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/scoracle-sim/internal/detrand"
	"github.com/albapepper/scoracle-sim/internal/league"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultMaxAttempts  = 100
	defaultMaxAdvances  = 10
	defaultHorizonWeeks = 38
	lockTTL             = 2 * time.Minute
)

var (
	// ErrRosterTooSmall rejects rosters with fewer than two teams after
	// odd-entry truncation.
	ErrRosterTooSmall = errors.New("roster too small")

	// ErrFixtureCollision means a generated cycle repeated a prior week.
	// Only returned once every retry and cycle advance is exhausted.
	ErrFixtureCollision = errors.New("fixture collision")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Pairing is one fixture: Home hosts Away.
type Pairing struct {
	Home string `json:"home"`
	Away string `json:"away"`
}

// Cycle is one complete generation of weeks for a league.
type Cycle struct {
	LeagueCode  string      `json:"league_code"`
	CycleNumber int         `json:"cycle_number"`
	Weeks       [][]Pairing `json:"weeks"`
	// Attempts is how many shuffles were discarded before this one was accepted.
	Attempts    int       `json:"attempts"`
	PublishedAt time.Time `json:"published_at"`
}

// DistinctRounds returns the leading weeks that are not horizon wraps: every
// pairing of the roster appears exactly once across them.
func (c Cycle) DistinctRounds() [][]Pairing {
	if len(c.Weeks) == 0 {
		return nil
	}
	n := 2 * len(c.Weeks[0])
	rounds := n - 1
	if rounds > len(c.Weeks) {
		rounds = len(c.Weeks)
	}
	return c.Weeks[:rounds]
}

// WeekHashes fingerprints every distinct week of the cycle.
func (c Cycle) WeekHashes() []string {
	seen := make(map[string]bool, len(c.Weeks))
	hashes := make([]string, 0, len(c.Weeks))
	for _, w := range c.Weeks {
		h := WeekHash(w)
		if !seen[h] {
			seen[h] = true
			hashes = append(hashes, h)
		}
	}
	return hashes
}

// GenerateResult tracks one Generate call.
type GenerateResult struct {
	LeagueCode      string
	RequestedCycle  int
	PublishedCycle  int
	Attempts        int
	Advances        int
	Reused          bool
	RegistryDegrade bool
	Duration        time.Duration
}

// Summary returns a human-readable summary.
func (r *GenerateResult) Summary() string {
	return fmt.Sprintf("league=%s requested=%d published=%d attempts=%d advances=%d reused=%v degraded=%v dur=%s",
		r.LeagueCode, r.RequestedCycle, r.PublishedCycle, r.Attempts, r.Advances,
		r.Reused, r.RegistryDegrade, r.Duration.Round(time.Millisecond))
}

// --------------------------------------------------------------------------
// Hashing and seeding
// --------------------------------------------------------------------------

// WeekHash fingerprints the ordered pairing list of a week by concatenating
// team slugs.
func WeekHash(week []Pairing) string {
	var b strings.Builder
	for _, p := range week {
		b.WriteString(league.Slug(p.Home))
		b.WriteByte(':')
		b.WriteString(league.Slug(p.Away))
		b.WriteByte(';')
	}
	return detrand.Hash64Hex(b.String())
}

// SeedFor keys the roster shuffle on (league name, cycle, salt) and the retry
// attempt, so each attempt and each cycle starts from a different order.
func SeedFor(leagueName string, cycleNumber int, salt string, attempt int) uint32 {
	return detrand.Hash32(fmt.Sprintf("%s|%d|%s|%d", leagueName, cycleNumber, salt, attempt))
}
