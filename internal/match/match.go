// Package match maps a schedule index to a concrete match.
//
// The resolver is built once from published fixture cycles and is read-only
// afterwards, so any number of goroutines may call it without locking. A new
// set of cycles produces a new Resolver, swapped in through Holder.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/albapepper/scoracle-sim/internal/detrand"
	"github.com/albapepper/scoracle-sim/internal/fixture"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/schedule"
)

const (
	defaultMinPoolSize    = 200
	defaultMatchesPerWeek = 10
	maxUpcoming           = 100
)

var (
	// ErrEmptyPool means no cycle contributed a single pairing.
	ErrEmptyPool = errors.New("match pool is empty")

	// ErrUnknownMatch means a well-formed id does not resolve to the match
	// the schedule holds at its coordinates.
	ErrUnknownMatch = errors.New("unknown match")
)

// Entry is one pool slot.
type Entry struct {
	LeagueCode string `json:"league_code"`
	Home       string `json:"home"`
	Away       string `json:"away"`
}

// Instance is a resolved match. It is derived, never authoritative: the same
// (index, schedule config, cycles) always yields the same Instance.
type Instance struct {
	MatchID        string    `json:"match_id"`
	LeagueCode     string    `json:"league_code"`
	ScheduleIndex  int64     `json:"schedule_index"`
	Week           int64     `json:"week"`
	Slot           int       `json:"slot"`
	HomeTeam       string    `json:"home_team"`
	AwayTeam       string    `json:"away_team"`
	ScheduledStart time.Time `json:"scheduled_start"`
	Odds           Odds      `json:"odds"`
}

// Options configure pool construction.
type Options struct {
	Salt           string
	MinPoolSize    int
	MatchesPerWeek int
	Clock          clock.Clock
}

// Resolver is immutable after NewResolver returns.
type Resolver struct {
	pool           []Entry
	natural        int
	matchesPerWeek int
	generation     string
	clock          clock.Clock
}

// NewResolver collects every pairing of each cycle's distinct rounds, so the
// pool holds each team combination once per league rather than only the
// adjacent round-robin pairs.
//
// Pool entries depend only on which teams meet, never on the cycle they came
// from: each pairing is reduced to its unordered pair and home is picked by a
// salted hash of that pair. Every cycle of a league covers the same pairs, so
// advancing a cycle leaves MatchAt unchanged for all indices. The pool is
// sorted, shuffled with a seed from opts.Salt and then replicated up to
// MinPoolSize.
func NewResolver(cycles []fixture.Cycle, opts Options) (*Resolver, error) {
	if opts.MinPoolSize < 1 {
		opts.MinPoolSize = defaultMinPoolSize
	}
	if opts.MatchesPerWeek < 1 {
		opts.MatchesPerWeek = defaultMatchesPerWeek
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	seen := make(map[Entry]bool)
	var natural []Entry
	for _, c := range cycles {
		for _, week := range c.DistinctRounds() {
			for _, p := range week {
				e := unordered(c.LeagueCode, p)
				if seen[e] {
					continue
				}
				seen[e] = true
				natural = append(natural, e)
			}
		}
	}
	if len(natural) == 0 {
		return nil, ErrEmptyPool
	}

	// Canonical order first so the shuffle does not depend on the order
	// cycles were passed in.
	sort.Slice(natural, func(i, j int) bool {
		a, b := natural[i], natural[j]
		if a.LeagueCode != b.LeagueCode {
			return a.LeagueCode < b.LeagueCode
		}
		if a.Home != b.Home {
			return a.Home < b.Home
		}
		return a.Away < b.Away
	})
	gen := generation(natural, opts)

	for i, e := range natural {
		natural[i] = orient(e, opts.Salt)
	}
	detrand.Shuffle(detrand.NewFromString("match-pool|"+opts.Salt), natural)

	pool := natural
	if len(pool) < opts.MinPoolSize {
		pool = make([]Entry, opts.MinPoolSize)
		for i := range pool {
			pool[i] = natural[i%len(natural)]
		}
	}

	return &Resolver{
		pool:           pool,
		natural:        len(natural),
		matchesPerWeek: opts.MatchesPerWeek,
		generation:     gen,
		clock:          opts.Clock,
	}, nil
}

// unordered returns p with the lexically smaller team in Home.
func unordered(leagueCode string, p fixture.Pairing) Entry {
	if p.Away < p.Home {
		p.Home, p.Away = p.Away, p.Home
	}
	return Entry{LeagueCode: leagueCode, Home: p.Home, Away: p.Away}
}

// orient decides which side of an unordered pair hosts.
func orient(e Entry, salt string) Entry {
	if detrand.Hash32("home|"+salt+"|"+e.LeagueCode+"|"+e.Home+"|"+e.Away)&1 == 1 {
		e.Home, e.Away = e.Away, e.Home
	}
	return e
}

// generation identifies the pairs and options a resolver was built from. Two
// resolvers with the same generation answer every lookup identically, so a
// cycle advance that covers the same pairs keeps it.
func generation(pairs []Entry, opts Options) string {
	var b strings.Builder
	for _, e := range pairs {
		fmt.Fprintf(&b, "%s:%s:%s;", e.LeagueCode, e.Home, e.Away)
	}
	fmt.Fprintf(&b, "|%s|%d|%d", opts.Salt, opts.MinPoolSize, opts.MatchesPerWeek)
	return detrand.Hash64Hex(b.String())
}

// Generation is a short hash of the pairs and options behind this resolver,
// usable as a cache key component.
func (r *Resolver) Generation() string { return r.generation }

// Size is the pool length, padding included.
func (r *Resolver) Size() int { return len(r.pool) }

// NaturalSize is the number of distinct pairings before padding.
func (r *Resolver) NaturalSize() int { return r.natural }

func (r *Resolver) MatchesPerWeek() int { return r.matchesPerWeek }

// Now is the resolver's notion of the current time.
func (r *Resolver) Now() time.Time { return r.clock.Now() }

// MatchAt resolves schedule index i. Indices that share a pool entry still
// get distinct ids because (week, slot) is a bijection of i.
func (r *Resolver) MatchAt(i int64, cfg schedule.Config) (Instance, error) {
	if i < 0 {
		return Instance{}, fmt.Errorf("negative schedule index %d", i)
	}
	start, err := schedule.TimeForIndex(i, cfg)
	if err != nil {
		return Instance{}, fmt.Errorf("match at %d: %w", i, err)
	}

	e := r.pool[i%int64(len(r.pool))]
	week := i/int64(r.matchesPerWeek) + 1
	slot := int(i % int64(r.matchesPerWeek))
	id := FormatID(e.LeagueCode, week, slot, e.Home, e.Away)

	return Instance{
		MatchID:        id,
		LeagueCode:     e.LeagueCode,
		ScheduleIndex:  i,
		Week:           week,
		Slot:           slot,
		HomeTeam:       e.Home,
		AwayTeam:       e.Away,
		ScheduledStart: start,
		Odds:           OddsFor(id),
	}, nil
}

// Current is the match whose slot contains now.
func (r *Resolver) Current(now time.Time, cfg schedule.Config) (Instance, error) {
	i, err := schedule.IndexForTime(now, cfg)
	if err != nil {
		return Instance{}, err
	}
	return r.MatchAt(i, cfg)
}

// Upcoming returns the n matches after the current one. n is capped.
func (r *Resolver) Upcoming(now time.Time, cfg schedule.Config, n int) ([]Instance, error) {
	if n < 1 {
		return nil, nil
	}
	if n > maxUpcoming {
		n = maxUpcoming
	}
	i, err := schedule.IndexForTime(now, cfg)
	if err != nil {
		return nil, err
	}
	return r.Window(i+1, i+int64(n), cfg)
}

// Window resolves every index in [from, to].
func (r *Resolver) Window(from, to int64, cfg schedule.Config) ([]Instance, error) {
	if to < from {
		return nil, nil
	}
	out := make([]Instance, 0, to-from+1)
	for i := from; i <= to; i++ {
		m, err := r.MatchAt(i, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ByID resolves a match id back to its instance, rejecting ids whose teams
// or league differ from what the schedule holds at those coordinates.
func (r *Resolver) ByID(id string, cfg schedule.Config) (Instance, error) {
	c, err := ParseID(id)
	if err != nil {
		return Instance{}, err
	}
	i, err := c.Index(r.matchesPerWeek)
	if err != nil {
		return Instance{}, err
	}
	m, err := r.MatchAt(i, cfg)
	if err != nil {
		return Instance{}, err
	}
	if m.MatchID != id {
		return Instance{}, fmt.Errorf("%w: %s (index %d holds %s)", ErrUnknownMatch, id, i, m.MatchID)
	}
	return m, nil
}

// --------------------------------------------------------------------------
// Holder
// --------------------------------------------------------------------------

// Holder publishes the active resolver to concurrent readers.
type Holder struct {
	p atomic.Pointer[Resolver]
}

func NewHolder(r *Resolver) *Holder {
	h := &Holder{}
	h.p.Store(r)
	return h
}

// Load returns the active resolver, or nil before the first Store.
func (h *Holder) Load() *Resolver { return h.p.Load() }

func (h *Holder) Store(r *Resolver) { h.p.Store(r) }

// Build ensures each league has a published cycle and builds a resolver from
// the latest ones.
func Build(ctx context.Context, pool *fixture.Pool, leagues []league.League, opts Options) (*Resolver, error) {
	cycles, err := pool.EnsureCycles(ctx, leagues)
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}
	r, err := NewResolver(cycles, opts)
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}
	return r, nil
}
