// Package maintenance runs periodic background tasks as Go tickers.
// All scheduled work is driven from Go since the API is already a
// persistent, long-running service (required for LISTEN/NOTIFY).
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/albapepper/scoracle-sim/internal/fixture"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/notifications"
	"github.com/albapepper/scoracle-sim/internal/outcome"
	"github.com/albapepper/scoracle-sim/internal/schedule"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	PublishInterval time.Duration // Publish outcomes for elapsed slots
	FixtureInterval time.Duration // Ensure every league has a cycle, rebuild the match pool
	CleanupInterval time.Duration // Purge old sent/failed notifications
	Retention       time.Duration
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		PublishInterval: time.Minute,
		FixtureInterval: time.Hour,
		CleanupInterval: 30 * time.Minute,
		Retention:       30 * 24 * time.Hour,
	}
}

// Tasks holds the dependencies the tickers operate on. A nil Outbox disables
// cleanup; OnPublished, when set, runs after a publication that wrote at
// least one outcome.
type Tasks struct {
	Schedule     schedule.Store
	Publisher    *outcome.Publisher
	Fixtures     *fixture.Pool
	Leagues      []league.League
	Matches      *match.Holder
	MatchOptions match.Options
	Outbox       notifications.Store
	OnPublished  func()
	Clock        clock.Clock
}

func (t *Tasks) now() time.Time {
	if t.Clock == nil {
		return time.Now()
	}
	return t.Clock.Now()
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, tasks *Tasks, cfg Config, logger *slog.Logger) {
	clk := tasks.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger.Info("Maintenance tickers started",
		"publish", cfg.PublishInterval,
		"fixtures", cfg.FixtureInterval,
		"cleanup", cfg.CleanupInterval)

	tickers := make([]*clock.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.PublishInterval > 0 {
		t := clk.Ticker(cfg.PublishInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "publish", func() { tasks.PublishOutcomes(ctx, logger) })
	}

	if cfg.FixtureInterval > 0 {
		t := clk.Ticker(cfg.FixtureInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "fixtures", func() { _ = tasks.RefreshMatches(ctx, logger) })
	}

	if cfg.CleanupInterval > 0 && tasks.Outbox != nil {
		t := clk.Ticker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "cleanup", func() { tasks.cleanup(ctx, cfg.Retention, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, name string, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// PublishOutcomes publishes final outcomes for every slot that has elapsed
// under the current schedule configuration.
func (t *Tasks) PublishOutcomes(ctx context.Context, logger *slog.Logger) outcome.PublishResult {
	cfg, err := schedule.Load(ctx, t.Schedule)
	if err != nil {
		logger.Warn("Publish: schedule unavailable", "error", err)
		return outcome.PublishResult{}
	}

	res, err := t.Publisher.PublishUntil(ctx, t.now(), cfg)
	if err != nil {
		logger.Warn("Publish: failed", "error", err, "summary", res.Summary())
	} else if res.Published > 0 {
		logger.Info("Publish: outcomes written", "summary", res.Summary())
	}
	if res.Published > 0 && t.OnPublished != nil {
		t.OnPublished()
	}
	return res
}

// cleanup removes notifications older than retention that have been sent
// or failed.
func (t *Tasks) cleanup(ctx context.Context, retention time.Duration, logger *slog.Logger) {
	n, err := notifications.Cleanup(ctx, t.Outbox, t.now(), retention)
	if err != nil {
		logger.Warn("Cleanup: failed to purge old notifications", "error", err)
	} else if n > 0 {
		logger.Info("Cleanup: purged old notifications", "count", n)
	}
}
