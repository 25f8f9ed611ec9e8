package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/metrics"
)

// Options tunes generation. Zero values take the package defaults.
type Options struct {
	Salt         string
	HorizonWeeks int
	MaxAttempts  int
	MaxAdvances  int // negative disables advancing
}

func (o Options) withDefaults() Options {
	if o.HorizonWeeks < 1 {
		o.HorizonWeeks = defaultHorizonWeeks
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.MaxAdvances < 0 {
		o.MaxAdvances = 0
	} else if o.MaxAdvances == 0 {
		o.MaxAdvances = defaultMaxAdvances
	}
	return o
}

// Pool generates and publishes fixture cycles.
type Pool struct {
	store    Store
	registry Registry
	locker   Locker
	opts     Options
	logger   *slog.Logger
}

func NewPool(store Store, registry Registry, locker Locker, opts Options, logger *slog.Logger) *Pool {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Pool{
		store:    store,
		registry: registry,
		locker:   locker,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Generate returns the published cycle for (lg, cycleNumber), generating it
// if needed.
//
// A candidate is rejected when any of its weeks hashes to a week used by a
// different cycle. Repeats inside the candidate (horizon wrap) are fine.
// After MaxAttempts rejections the cycle number advances, so the returned
// cycle may carry a higher number than requested.
func (p *Pool) Generate(ctx context.Context, lg league.League, cycleNumber int) (Cycle, error) {
	start := time.Now()
	result := GenerateResult{LeagueCode: lg.Code, RequestedCycle: cycleNumber}

	unlock, err := p.locker.Lock(ctx, lockKey(lg.Code))
	if err != nil {
		return Cycle{}, fmt.Errorf("generate %s/%d: %w", lg.Code, cycleNumber, err)
	}
	defer unlock()

	if existing, ok, err := p.store.Get(ctx, lg.Code, cycleNumber); err != nil {
		return Cycle{}, fmt.Errorf("generate %s/%d: %w", lg.Code, cycleNumber, err)
	} else if ok {
		result.Reused = true
		result.PublishedCycle = existing.CycleNumber
		p.logger.Debug("Fixture cycle already published", "summary", result.Summary())
		return existing, nil
	}

	seen, err := p.registry.SeenHashes(ctx, lg.Code)
	if err != nil {
		p.logger.Warn("Hash registry unavailable, generating degraded",
			"league", lg.Code, "error", err)
		seen = map[string]int{}
		result.RegistryDegrade = true
	}

	roster := Roster(lg.Teams)
	number := cycleNumber
	for adv := 0; adv <= p.opts.MaxAdvances; adv++ {
		if adv > 0 {
			number++
			result.Advances = adv
			// Someone else may already own the next number.
			if _, ok, err := p.store.Get(ctx, lg.Code, number); err != nil {
				return Cycle{}, fmt.Errorf("generate %s/%d: %w", lg.Code, number, err)
			} else if ok {
				continue
			}
			p.logger.Warn("Fixture retries exhausted, advancing cycle",
				"league", lg.Code, "from", number-1, "to", number)
		}

		for attempt := 0; attempt < p.opts.MaxAttempts; attempt++ {
			result.Attempts++
			weeks, err := RoundRobin(Shuffle(roster, SeedFor(lg.Name, number, p.opts.Salt, attempt)), p.opts.HorizonWeeks)
			if err != nil {
				return Cycle{}, fmt.Errorf("generate %s/%d: %w", lg.Code, number, err)
			}
			cand := Cycle{LeagueCode: lg.Code, CycleNumber: number, Weeks: weeks, Attempts: attempt}
			if collides(cand, seen) {
				metrics.FixtureCollisions.Inc()
				continue
			}

			published, err := p.publish(ctx, cand)
			if err != nil {
				return Cycle{}, err
			}
			result.PublishedCycle = published.CycleNumber
			result.Duration = time.Since(start)
			p.logger.Info("Fixture cycle published", "summary", result.Summary())
			return published, nil
		}
	}

	result.Duration = time.Since(start)
	p.logger.Error("Fixture generation failed", "summary", result.Summary())
	return Cycle{}, fmt.Errorf("generate %s/%d: %w after %d attempts",
		lg.Code, cycleNumber, ErrFixtureCollision, result.Attempts)
}

// publish records the hashes first: a crash between the two writes leaves
// hashes tagged with an unpublished cycle number, which the regenerated
// cycle ignores because they carry its own number.
func (p *Pool) publish(ctx context.Context, c Cycle) (Cycle, error) {
	if err := p.registry.AddHashes(ctx, c.LeagueCode, c.CycleNumber, c.WeekHashes()); err != nil {
		return Cycle{}, fmt.Errorf("record hashes %s/%d: %w", c.LeagueCode, c.CycleNumber, err)
	}
	published, err := p.store.Publish(ctx, c)
	if err != nil {
		return Cycle{}, fmt.Errorf("publish cycle %s/%d: %w", c.LeagueCode, c.CycleNumber, err)
	}
	return published, nil
}

func collides(c Cycle, seen map[string]int) bool {
	for _, h := range c.WeekHashes() {
		if owner, ok := seen[h]; ok && owner != c.CycleNumber {
			return true
		}
	}
	return false
}

// Latest returns the newest published cycle of a league.
func (p *Pool) Latest(ctx context.Context, leagueCode string) (Cycle, bool, error) {
	return p.store.Latest(ctx, leagueCode)
}

// Advance generates the cycle after the league's latest one (or cycle 1).
func (p *Pool) Advance(ctx context.Context, lg league.League) (Cycle, error) {
	latest, ok, err := p.store.Latest(ctx, lg.Code)
	if err != nil {
		return Cycle{}, fmt.Errorf("advance %s: %w", lg.Code, err)
	}
	next := 1
	if ok {
		next = latest.CycleNumber + 1
	}
	return p.Generate(ctx, lg, next)
}

// EnsureCycles makes sure every league has at least one published cycle and
// returns the latest cycle of each, in league order. A league that fails is
// logged and left out; the error is returned only if every league failed.
func (p *Pool) EnsureCycles(ctx context.Context, leagues []league.League) ([]Cycle, error) {
	var (
		out     []Cycle
		lastErr error
	)
	for _, lg := range leagues {
		c, ok, err := p.store.Latest(ctx, lg.Code)
		if err == nil && !ok {
			c, err = p.Generate(ctx, lg, 1)
		}
		if err != nil {
			p.logger.Error("Fixture cycle unavailable", "league", lg.Code, "error", err)
			lastErr = err
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("ensure cycles: %w", lastErr)
	}
	return out, nil
}
