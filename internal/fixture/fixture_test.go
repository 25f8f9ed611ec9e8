package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-sim/internal/league"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func teams(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Team %d", i)
	}
	return out
}

func pairKey(p Pairing) string {
	if p.Home < p.Away {
		return p.Home + "|" + p.Away
	}
	return p.Away + "|" + p.Home
}

func TestRoundRobin_everyPairOnce(t *testing.T) {
	for _, n := range []int{2, 4, 6, 10, 20} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			weeks, err := RoundRobin(teams(n), n-1)
			require.NoError(t, err)
			require.Len(t, weeks, n-1)

			pairs := map[string]int{}
			for _, w := range weeks {
				require.Len(t, w, n/2)
				playing := map[string]bool{}
				for _, p := range w {
					assert.NotEqual(t, p.Home, p.Away)
					assert.False(t, playing[p.Home], "%s plays twice in a week", p.Home)
					assert.False(t, playing[p.Away], "%s plays twice in a week", p.Away)
					playing[p.Home], playing[p.Away] = true, true
					pairs[pairKey(p)]++
				}
			}
			assert.Len(t, pairs, n*(n-1)/2)
			for k, c := range pairs {
				assert.Equal(t, 1, c, "pair %s", k)
			}
		})
	}
}

func TestRoundRobin_homeAwayAlternates(t *testing.T) {
	weeks, err := RoundRobin(teams(6), 5)
	require.NoError(t, err)

	home := map[string]int{}
	for _, w := range weeks {
		for _, p := range w {
			home[p.Home]++
		}
	}
	for _, name := range teams(6) {
		assert.GreaterOrEqual(t, home[name], 2, name)
		assert.LessOrEqual(t, home[name], 3, name)
	}
}

func TestRoundRobin_oddRosterTruncated(t *testing.T) {
	weeks, err := RoundRobin(teams(5), 3)
	require.NoError(t, err)
	for _, w := range weeks {
		require.Len(t, w, 2)
		for _, p := range w {
			assert.NotEqual(t, "Team 4", p.Home)
			assert.NotEqual(t, "Team 4", p.Away)
		}
	}
}

func TestRoundRobin_tooSmall(t *testing.T) {
	for _, roster := range [][]string{nil, {"Solo"}, teams(1)} {
		_, err := RoundRobin(roster, 10)
		assert.ErrorIs(t, err, ErrRosterTooSmall)
	}
	// Three teams truncate to two, which is still a fixture.
	weeks, err := RoundRobin(teams(3), 1)
	require.NoError(t, err)
	assert.Len(t, weeks[0], 1)
}

func TestRoundRobin_horizonWraps(t *testing.T) {
	weeks, err := RoundRobin(teams(4), 10)
	require.NoError(t, err)
	require.Len(t, weeks, 10)
	for w := 3; w < 10; w++ {
		assert.Equal(t, weeks[w%3], weeks[w])
	}
}

func TestShuffle_deterministic(t *testing.T) {
	in := teams(20)
	a := Shuffle(in, 42)
	b := Shuffle(in, 42)
	c := Shuffle(in, 43)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.ElementsMatch(t, in, a)
	assert.Equal(t, teams(20), in, "input must not be modified")
}

func TestSeedFor_perturbsEveryInput(t *testing.T) {
	base := SeedFor("Premier", 1, "salt", 0)
	assert.Equal(t, base, SeedFor("Premier", 1, "salt", 0))
	assert.NotEqual(t, base, SeedFor("Premier", 2, "salt", 0))
	assert.NotEqual(t, base, SeedFor("Premier", 1, "pepper", 0))
	assert.NotEqual(t, base, SeedFor("Premier", 1, "salt", 1))
	assert.NotEqual(t, base, SeedFor("Liga", 1, "salt", 0))
}

func TestWeekHash_orderSensitiveAndSlugged(t *testing.T) {
	a := []Pairing{{"Arsenal", "Chelsea"}, {"Everton", "Leeds"}}
	b := []Pairing{{"Everton", "Leeds"}, {"Arsenal", "Chelsea"}}
	flipped := []Pairing{{"Chelsea", "Arsenal"}, {"Everton", "Leeds"}}
	cased := []Pairing{{"ARSENAL", "chelsea"}, {"everton", "LEEDS"}}

	assert.Len(t, WeekHash(a), 16)
	assert.NotEqual(t, WeekHash(a), WeekHash(b))
	assert.NotEqual(t, WeekHash(a), WeekHash(flipped))
	assert.Equal(t, WeekHash(a), WeekHash(cased))
}

func TestCycle_DistinctRounds(t *testing.T) {
	weeks, err := RoundRobin(teams(6), 38)
	require.NoError(t, err)
	c := Cycle{Weeks: weeks}
	assert.Len(t, c.DistinctRounds(), 5)
	assert.Len(t, c.WeekHashes(), 5)
	assert.Nil(t, Cycle{}.DistinctRounds())
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

func testLeague(n int) league.League {
	return league.League{Code: "tst", Name: "Test League", Teams: teams(n)}
}

func TestGenerate_publishesAndReuses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pool := NewPool(store, store, nil, Options{Salt: "x", HorizonWeeks: 12}, quietLogger())

	first, err := pool.Generate(ctx, testLeague(6), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.CycleNumber)
	assert.Len(t, first.Weeks, 12)
	assert.False(t, first.PublishedAt.IsZero())

	again, err := pool.Generate(ctx, testLeague(6), 1)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestGenerate_deterministicAcrossStores(t *testing.T) {
	ctx := context.Background()
	s1, s2 := NewMemoryStore(), NewMemoryStore()
	p1 := NewPool(s1, s1, nil, Options{Salt: "x"}, quietLogger())
	p2 := NewPool(s2, s2, nil, Options{Salt: "x"}, quietLogger())

	a, err := p1.Generate(ctx, testLeague(8), 1)
	require.NoError(t, err)
	b, err := p2.Generate(ctx, testLeague(8), 1)
	require.NoError(t, err)
	assert.Equal(t, a.Weeks, b.Weeks)
}

func TestGenerate_noWeekRepeatsAcrossCycles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pool := NewPool(store, store, nil, Options{Salt: "x", HorizonWeeks: 5}, quietLogger())
	lg := testLeague(6)

	owner := map[string]int{}
	for i := 0; i < 5; i++ {
		c, err := pool.Advance(ctx, lg)
		require.NoError(t, err)
		for _, h := range c.WeekHashes() {
			prev, ok := owner[h]
			assert.False(t, ok, "week %s of cycle %d repeats cycle %d", h, c.CycleNumber, prev)
			owner[h] = c.CycleNumber
		}
	}
	assert.Len(t, store.Cycles(lg.Code), 5)
}

func TestGenerate_retriesOnCollision(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lg := testLeague(6)

	// Poison the first attempt's weeks as if an earlier cycle used them.
	weeks, err := RoundRobin(Shuffle(lg.Teams, SeedFor(lg.Name, 1, "x", 0)), 5)
	require.NoError(t, err)
	poisoned := Cycle{Weeks: weeks}.WeekHashes()
	require.NoError(t, store.AddHashes(ctx, lg.Code, 0, poisoned[:1]))

	pool := NewPool(store, store, nil, Options{Salt: "x", HorizonWeeks: 5}, quietLogger())
	c, err := pool.Generate(ctx, lg, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.CycleNumber)
	assert.GreaterOrEqual(t, c.Attempts, 1)
	assert.NotContains(t, c.WeekHashes(), poisoned[0])
}

func TestGenerate_ownHashesAreNotCollisions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lg := testLeague(6)

	// Hashes written by a cycle-1 run that crashed before publishing.
	weeks, err := RoundRobin(Shuffle(lg.Teams, SeedFor(lg.Name, 1, "x", 0)), 5)
	require.NoError(t, err)
	require.NoError(t, store.AddHashes(ctx, lg.Code, 1, Cycle{Weeks: weeks}.WeekHashes()))

	pool := NewPool(store, store, nil, Options{Salt: "x", HorizonWeeks: 5}, quietLogger())
	c, err := pool.Generate(ctx, lg, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Attempts)
	assert.Equal(t, weeks, c.Weeks)
}

func duo() league.League {
	return league.League{Code: "duo", Name: "Duo", Teams: []string{"Alpha", "Beta"}}
}

func TestGenerate_advancesCycleAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	// With salt s14, attempts 0..2 of cycle 1 all put Alpha at home and
	// attempt 0 of cycle 2 puts Beta at home.
	require.NoError(t, store.AddHashes(ctx, "duo", 0, []string{WeekHash([]Pairing{{"Alpha", "Beta"}})}))

	pool := NewPool(store, store, nil, Options{Salt: "s14", HorizonWeeks: 1, MaxAttempts: 3, MaxAdvances: 2}, quietLogger())
	c, err := pool.Generate(ctx, duo(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CycleNumber)
	assert.Equal(t, 0, c.Attempts)
	assert.Equal(t, []Pairing{{Home: "Beta", Away: "Alpha"}}, c.Weeks[0])

	_, ok, err := store.Get(ctx, "duo", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerate_exhausted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.AddHashes(ctx, "duo", 0, []string{
		WeekHash([]Pairing{{"Alpha", "Beta"}}),
		WeekHash([]Pairing{{"Beta", "Alpha"}}),
	}))

	pool := NewPool(store, store, nil, Options{HorizonWeeks: 1, MaxAttempts: 4, MaxAdvances: 1}, quietLogger())
	_, err := pool.Generate(ctx, duo(), 1)
	assert.ErrorIs(t, err, ErrFixtureCollision)
	assert.Empty(t, store.Cycles("duo"))
}

func TestGenerate_oddRosterKeepsTeamsAcrossCycles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pool := NewPool(store, store, nil, Options{Salt: "x", HorizonWeeks: 4}, quietLogger())
	lg := testLeague(7)

	teamsOf := func(c Cycle) map[string]bool {
		out := map[string]bool{}
		for _, w := range c.Weeks {
			for _, p := range w {
				out[p.Home], out[p.Away] = true, true
			}
		}
		return out
	}

	first, err := pool.Advance(ctx, lg)
	require.NoError(t, err)
	assert.Len(t, teamsOf(first), 6)
	assert.False(t, teamsOf(first)["Team 6"])
	for i := 0; i < 3; i++ {
		c, err := pool.Advance(ctx, lg)
		require.NoError(t, err)
		assert.Equal(t, teamsOf(first), teamsOf(c), "cycle %d", c.CycleNumber)
	}
}

func TestGenerate_rosterTooSmall(t *testing.T) {
	store := NewMemoryStore()
	pool := NewPool(store, store, nil, Options{}, quietLogger())
	_, err := pool.Generate(context.Background(), league.League{Code: "one", Name: "One", Teams: []string{"Solo"}}, 1)
	assert.ErrorIs(t, err, ErrRosterTooSmall)
}

type brokenRegistry struct {
	added map[string]int
}

func (r *brokenRegistry) SeenHashes(context.Context, string) (map[string]int, error) {
	return nil, errors.New("registry offline")
}

func (r *brokenRegistry) AddHashes(_ context.Context, _ string, n int, hashes []string) error {
	for _, h := range hashes {
		r.added[h] = n
	}
	return nil
}

func TestGenerate_degradedRegistry(t *testing.T) {
	store := NewMemoryStore()
	reg := &brokenRegistry{added: map[string]int{}}
	pool := NewPool(store, reg, nil, Options{HorizonWeeks: 5}, quietLogger())

	c, err := pool.Generate(context.Background(), testLeague(6), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.CycleNumber)
	assert.Len(t, reg.added, 5)
}

func TestGenerate_concurrentCallersConverge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pool := NewPool(store, store, NewLocalLocker(), Options{HorizonWeeks: 9}, quietLogger())
	lg := testLeague(10)

	var wg sync.WaitGroup
	results := make([]Cycle, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := pool.Generate(ctx, lg, 1)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results[1:] {
		assert.Equal(t, results[0], c)
	}
	assert.Len(t, store.Cycles(lg.Code), 1)
}

func TestEnsureCycles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pool := NewPool(store, store, nil, Options{HorizonWeeks: 3}, quietLogger())

	leagues := []league.League{
		{Code: "aaa", Name: "A", Teams: teams(4)},
		{Code: "bad", Name: "Bad", Teams: []string{"Solo"}},
		{Code: "ccc", Name: "C", Teams: teams(6)},
	}
	cycles, err := pool.EnsureCycles(ctx, leagues)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "aaa", cycles[0].LeagueCode)
	assert.Equal(t, "ccc", cycles[1].LeagueCode)

	// Second call reads the published cycles back.
	again, err := pool.EnsureCycles(ctx, leagues[:1])
	require.NoError(t, err)
	assert.Equal(t, cycles[0], again[0])

	_, err = pool.EnsureCycles(ctx, leagues[1:2])
	assert.ErrorIs(t, err, ErrRosterTooSmall)
}

func TestLocalLocker_respectsContext(t *testing.T) {
	var l Locker = NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)

	// Other keys are independent.
	other, err := l.Lock(context.Background(), "k2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}
