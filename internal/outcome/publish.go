package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/metrics"
	"github.com/albapepper/scoracle-sim/internal/schedule"
)

const defaultBackfill = 500

// PublishResult tracks one publication run.
type PublishResult struct {
	From      int64
	To        int64
	Published int
	// Deferred counts elapsed slots left for later runs by the backfill cap.
	Deferred int64
	Errors   []string
	Duration  time.Duration
}

// Summary returns a human-readable summary.
func (r *PublishResult) Summary() string {
	return fmt.Sprintf("range=%d..%d published=%d deferred=%d errors=%d dur=%s",
		r.From, r.To, r.Published, r.Deferred, len(r.Errors), r.Duration.Round(time.Millisecond))
}

// Publisher writes the final outcome of every elapsed schedule slot to the
// store, which is where the settlement reconciler reads results from.
type Publisher struct {
	store    Store
	matches  *match.Holder
	backfill int64
	logger   *slog.Logger
}

func NewPublisher(store Store, matches *match.Holder, backfill int, logger *slog.Logger) *Publisher {
	if backfill < 1 {
		backfill = defaultBackfill
	}
	return &Publisher{store: store, matches: matches, backfill: int64(backfill), logger: logger}
}

// PublishUntil publishes every slot that has fully elapsed at now and is
// newer than the last stored index, oldest first. At most backfill slots are
// written per run and the rest wait for the next one, so no elapsed slot is
// ever passed over and every wager eventually finds its outcome.
func (p *Publisher) PublishUntil(ctx context.Context, now time.Time, cfg schedule.Config) (PublishResult, error) {
	start := time.Now()
	var result PublishResult

	resolver := p.matches.Load()
	if resolver == nil {
		return result, fmt.Errorf("publish outcomes: no match resolver loaded")
	}

	last, ok, err := schedule.LastCompleted(now, cfg)
	if err != nil {
		return result, fmt.Errorf("publish outcomes: %w", err)
	}
	if !ok {
		return result, nil
	}

	from := int64(0)
	stored, hasStored, err := p.store.LastIndex(ctx)
	if err != nil {
		return result, fmt.Errorf("publish outcomes: %w", err)
	}
	if hasStored {
		from = stored + 1
	}
	if from > last {
		return result, nil
	}
	if last-from+1 > p.backfill {
		result.Deferred = last - from + 1 - p.backfill
		p.logger.Warn("Outcome backlog exceeds backfill, deferring newest slots",
			"from", from, "to", last, "deferred", result.Deferred)
		last = from + p.backfill - 1
	}
	result.From, result.To = from, last

	for i := from; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		m, err := resolver.MatchAt(i, cfg)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("index %d: %s", i, err))
			break
		}
		rec := Record{
			Outcome:       For(m.MatchID),
			LeagueCode:    m.LeagueCode,
			ScheduleIndex: i,
		}
		if err := p.store.Upsert(ctx, rec); err != nil {
			// Stop here so LastIndex never moves past a gap.
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", m.MatchID, err))
			break
		}
		result.Published++
		metrics.OutcomesPublished.Inc()
	}

	result.Duration = time.Since(start)
	if result.Published > 0 || len(result.Errors) > 0 {
		p.logger.Info("Outcome publication complete", "summary", result.Summary())
	}
	return result, nil
}
