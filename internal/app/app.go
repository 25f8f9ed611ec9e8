// Package app wires the stores, pools and workers shared by cmd/api and
// cmd/ingest. Two flavours exist: Postgres-backed for the deployed service
// and fully in-memory for the simulate command and local experiments.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/albapepper/scoracle-sim/internal/config"
	"github.com/albapepper/scoracle-sim/internal/db"
	"github.com/albapepper/scoracle-sim/internal/fixture"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/maintenance"
	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/notifications"
	"github.com/albapepper/scoracle-sim/internal/outcome"
	"github.com/albapepper/scoracle-sim/internal/schedule"
	"github.com/albapepper/scoracle-sim/internal/settlement"
)

// Components is everything a command might need. Fields that do not apply
// to a flavour are nil (Outbox in memory mode).
type Components struct {
	Schedule     schedule.Store
	FixtureStore fixture.Store
	Fixtures     *fixture.Pool
	Leagues      []league.League
	Matches      *match.Holder
	MatchOptions match.Options
	Outcomes     outcome.Store
	Publisher    *outcome.Publisher
	Ledger       settlement.Ledger
	Outbox       notifications.Store
	Sender       notifications.Sender
	Notifier     settlement.Notifier
	Clock        clock.Clock

	closers []func()
}

// Close releases optional clients (Redis).
func (c *Components) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

// NewPostgres builds Postgres-backed components. Fixture generation is
// serialised through Redis when REDIS_URL is set, otherwise through a
// Postgres advisory lock.
func NewPostgres(cfg *config.Config, pool *db.Pool, leagues []league.League, logger *slog.Logger) (*Components, error) {
	c := &Components{Clock: clock.New(), Leagues: leagues}

	var locker fixture.Locker
	if cfg.RedisURL != "" {
		rl, err := fixture.NewRedisLockerFromURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis locker: %w", err)
		}
		c.closers = append(c.closers, func() { _ = rl.Close() })
		locker = rl
		logger.Info("Fixture lock: redis")
	} else {
		locker = fixture.NewPGAdvisoryLocker(pool.Pool)
		logger.Info("Fixture lock: postgres advisory")
	}

	fixtures := fixture.NewPGStore(pool.Pool)
	c.Schedule = schedule.NewPGStore(pool.Pool)
	c.FixtureStore = fixtures
	c.Fixtures = fixture.NewPool(fixtures, fixtures, locker, fixtureOptions(cfg), logger)
	c.Outcomes = outcome.NewPGStore(pool.Pool)
	c.Ledger = settlement.NewPGLedger(pool.Pool)

	sender, err := newSender(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	outbox := notifications.NewPGStore(pool.Pool)
	c.Outbox = outbox
	c.Sender = sender
	c.Notifier = notifications.NewOutbox(outbox, logger)

	c.finish(cfg, logger)
	return c, nil
}

// NewMemory builds process-local components. Notifications go straight to
// the sender; the ledger reads outcomes from the in-memory outcome store.
func NewMemory(cfg *config.Config, sched *schedule.Config, leagues []league.League, clk clock.Clock, logger *slog.Logger) (*Components, error) {
	if clk == nil {
		clk = clock.New()
	}
	c := &Components{Clock: clk, Leagues: leagues}

	fixtures := fixture.NewMemoryStore()
	outcomes := outcome.NewMemoryStore()
	c.Schedule = schedule.NewMemoryStore(sched)
	c.FixtureStore = fixtures
	c.Fixtures = fixture.NewPool(fixtures, fixtures, fixture.NewLocalLocker(), fixtureOptions(cfg), logger)
	c.Outcomes = outcomes
	c.Ledger = settlement.NewMemoryLedger(outcomes.Lookup)

	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Sender = sender
	c.Notifier = notifications.NewDirect(sender)

	c.finish(cfg, logger)
	return c, nil
}

func (c *Components) finish(cfg *config.Config, logger *slog.Logger) {
	c.MatchOptions = match.Options{
		Salt:           cfg.FixtureSalt,
		MinPoolSize:    cfg.MatchPoolMinSize,
		MatchesPerWeek: cfg.MatchesPerWeek,
		Clock:          c.Clock,
	}
	c.Matches = match.NewHolder(nil)
	c.Publisher = outcome.NewPublisher(c.Outcomes, c.Matches, cfg.PublishBackfill, logger)
}

func fixtureOptions(cfg *config.Config) fixture.Options {
	return fixture.Options{
		Salt:         cfg.FixtureSalt,
		HorizonWeeks: cfg.FixtureHorizonWeeks,
		MaxAttempts:  cfg.FixtureMaxAttempts,
	}
}

func newSender(cfg *config.Config, logger *slog.Logger) (notifications.Sender, error) {
	if !cfg.TelegramEnabled() {
		return notifications.NewLogSender(logger), nil
	}
	tg, err := notifications.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID, logger)
	if err != nil {
		return nil, err
	}
	return tg, nil
}

// BuildMatches ensures every league has a fixture cycle and loads a resolver
// into Matches.
func (c *Components) BuildMatches(ctx context.Context, logger *slog.Logger) error {
	return c.Tasks().RefreshMatches(ctx, logger)
}

// Tasks returns the maintenance task set over these components.
func (c *Components) Tasks() *maintenance.Tasks {
	return &maintenance.Tasks{
		Schedule:     c.Schedule,
		Publisher:    c.Publisher,
		Fixtures:     c.Fixtures,
		Leagues:      c.Leagues,
		Matches:      c.Matches,
		MatchOptions: c.MatchOptions,
		Outbox:       c.Outbox,
		Clock:        c.Clock,
	}
}

// Reconciler returns a settlement reconciler over the ledger.
func (c *Components) Reconciler(cfg *config.Config, logger *slog.Logger) *settlement.Reconciler {
	return settlement.NewReconciler(c.Ledger, c.Notifier, settlement.Options{
		BatchSize:     cfg.SettleBatchSize,
		Workers:       cfg.SettleWorkers,
		Interval:      cfg.SettleInterval,
		NotifyTimeout: cfg.SettleNotifyTimeout,
		StuckAfter:    cfg.SettleStuckAfter,
		Clock:         c.Clock,
	}, logger)
}
