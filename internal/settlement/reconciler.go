package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/albapepper/scoracle-sim/internal/metrics"
)

// Notifier receives settled wagers. Failures are logged and dropped.
type Notifier interface {
	NotifySettlement(ctx context.Context, s Settlement) error
}

// Options tune the polling loop. Zero values take the package defaults.
type Options struct {
	BatchSize     int
	Workers       int
	Interval      time.Duration
	NotifyTimeout time.Duration
	// StuckAfter is how old a settlement event on a still-pending wager must
	// be before it is reported as stuck rather than as a lost race.
	StuckAfter time.Duration
	Clock      clock.Clock
}

func (o Options) withDefaults() Options {
	if o.BatchSize < 1 {
		o.BatchSize = defaultBatchSize
	}
	if o.Workers < 1 {
		o.Workers = defaultWorkers
	}
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = defaultNotifyTimeout
	}
	if o.StuckAfter <= 0 {
		o.StuckAfter = defaultStuckAfter
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Reconciler settles pending wagers in passes. Several reconcilers, in one
// process or many, may run against the same ledger.
type Reconciler struct {
	ledger   Ledger
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	wake     chan struct{}
}

func NewReconciler(ledger Ledger, notifier Notifier, opts Options, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		notifier: notifier,
		opts:     opts.withDefaults(),
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Wake asks Run for an early pass. Never blocks; wakes coalesce.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run passes once immediately, then every Interval or on Wake, until ctx is
// cancelled. Nothing is held between passes. Intended to be called with `go`.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Settlement reconciler started",
		"interval", r.opts.Interval, "batch", r.opts.BatchSize, "workers", r.opts.Workers)
	ticker := r.opts.Clock.Ticker(r.opts.Interval)
	defer ticker.Stop()

	r.RunPass(ctx)
	for {
		select {
		case <-ticker.C:
			r.RunPass(ctx)
		case <-r.wake:
			r.RunPass(ctx)
		case <-ctx.Done():
			r.logger.Info("Settlement reconciler stopped")
			return
		}
	}
}

// RunPass fetches one batch of pending wagers and settles them on a worker
// pool: one channel of wagers, N workers, results merged under a mutex.
func (r *Reconciler) RunPass(ctx context.Context) (result PassResult) {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		metrics.SettlementPassSeconds.Observe(result.Duration.Seconds())
	}()

	pending, err := r.ledger.PendingWagers(ctx, r.opts.BatchSize)
	if err != nil {
		r.logger.Error("Settlement pass failed", "error", err)
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Fetched = len(pending)
	if len(pending) == 0 {
		return result
	}

	workers := r.opts.Workers
	if workers > len(pending) {
		workers = len(pending)
	}

	ch := make(chan PendingWager, len(pending))
	for _, pw := range pending {
		ch <- pw
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pw := range ch {
				res := r.SettleOne(ctx, pw)
				mu.Lock()
				result.add(res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	result.Duration = time.Since(start)
	r.logger.Info("Settlement pass complete", "summary", result.Summary())
	return result
}

// SettleOne decides and applies the settlement of one wager.
func (r *Reconciler) SettleOne(ctx context.Context, pw PendingWager) Result {
	res := Result{WagerID: pw.ID}

	s, ok := r.decide(pw)
	if !ok {
		res.Skipped = true
		return res
	}
	res.Status, res.Payout = s.Status, s.Payout

	err := r.ledger.SettleAtomic(ctx, s)
	if errors.Is(err, ErrTransactionUnavailable) {
		res.Fallback = true
		metrics.SettlementFallback.Inc()
		r.logger.Warn("Atomic settlement unavailable, using fallback", "wager_id", pw.ID, "error", err)
		err = r.settleFallback(ctx, s)
	}
	if errors.Is(err, ErrRaceLost) {
		if cerr := r.checkClaim(ctx, s.WagerID); cerr != nil {
			err = cerr
		}
	}
	switch {
	case errors.Is(err, ErrRaceLost):
		res.RaceLost = true
		metrics.SettlementRaceLost.Inc()
		r.logger.Debug("Wager already settled elsewhere", "wager_id", pw.ID)
		return res
	case errors.Is(err, ErrStuckClaim):
		res.Error = err.Error()
		metrics.SettlementStuck.Inc()
		r.logger.Error("Wager stuck behind an unfinished settlement, needs review", "wager_id", pw.ID, "error", err)
		return res
	case err != nil:
		res.Error = err.Error()
		r.logger.Error("Wager left pending", "wager_id", pw.ID, "error", err)
		return res
	}

	metrics.WagersSettled.WithLabelValues(string(s.Status)).Inc()
	r.logger.Info("Wager settled",
		"wager_id", s.WagerID, "status", s.Status, "payout", s.Payout.StringFixed(2), "shape", s.Shape)
	r.notify(ctx, s)
	return res
}

// decide maps a pending wager to its settlement, or false to leave it
// pending because the match has neither usable scores nor a finished flag.
func (r *Reconciler) decide(pw PendingWager) (Settlement, bool) {
	scores := Extract(pw.Result)
	s := Settlement{
		WagerID: pw.ID,
		UserID:  pw.UserID,
		MatchID: pw.MatchID,
		Stake:   pw.Stake,
		Shape:   scores.Shape,
	}

	switch {
	case !scores.HasScores && !scores.Finished:
		return Settlement{}, false
	case !scores.HasScores:
		s.Status, s.Reason = StatusVoid, "finished without usable scores"
	case !scores.Finished:
		// Scores without a final flag are still in play.
		return Settlement{}, false
	default:
		home, away := scores.Home, scores.Away
		s.HomeGoals, s.AwayGoals = &home, &away
		status, err := Evaluate(pw.Wager, scores)
		if err != nil {
			r.logger.Warn("Wager cannot be evaluated, voiding",
				"wager_id", pw.ID, "bet_type", pw.BetType, "selection", pw.Selection, "error", err)
			s.Reason = err.Error()
		}
		s.Status = status
	}

	s.Payout = Payout(pw.Wager, s.Status)
	return stamp(s, r.opts.Clock.Now()), true
}

// settleFallback applies s one write at a time: check pending, claim the
// settlement event, credit, mark settled. A failure after the claim undoes
// what was written so the wager stays pending for the next pass.
func (r *Reconciler) settleFallback(ctx context.Context, s Settlement) error {
	status, err := r.ledger.WagerStatus(ctx, s.WagerID)
	if err != nil {
		return fmt.Errorf("fallback status: %w", err)
	}
	if status != StatusPending {
		return ErrRaceLost
	}

	claimed, err := r.ledger.ClaimSettlement(ctx, s)
	if err != nil {
		return fmt.Errorf("fallback claim: %w", err)
	}
	if !claimed {
		return ErrRaceLost
	}

	credited := decimal.Zero
	if s.Payout.IsPositive() {
		if err := r.ledger.CreditBalance(ctx, s.UserID, s.Payout); err != nil {
			r.release(ctx, s)
			return fmt.Errorf("fallback credit: %w", err)
		}
		credited = s.Payout
	}

	marked, err := r.ledger.MarkSettled(ctx, s)
	if err == nil && marked {
		return nil
	}
	if credited.IsPositive() {
		if cerr := r.ledger.CreditBalance(ctx, s.UserID, credited.Neg()); cerr != nil {
			r.logger.Error("Fallback compensation failed, balance needs review",
				"wager_id", s.WagerID, "user_id", s.UserID, "amount", credited.StringFixed(2), "error", cerr)
		}
	}
	r.release(ctx, s)
	if err != nil {
		return fmt.Errorf("fallback mark: %w", err)
	}
	return ErrRaceLost
}

// checkClaim tells a lost race from a leftover claim. A race is lost when the
// wager has left pending, or when the event on it is younger than StuckAfter
// and its writer may still be finishing. Anything older is ErrStuckClaim.
func (r *Reconciler) checkClaim(ctx context.Context, wagerID string) error {
	status, err := r.ledger.WagerStatus(ctx, wagerID)
	if err != nil {
		return fmt.Errorf("recheck status: %w", err)
	}
	if status != StatusPending {
		return nil
	}
	ev, ok, err := r.ledger.SettlementEvent(ctx, wagerID)
	if err != nil {
		return fmt.Errorf("load settlement event: %w", err)
	}
	if !ok {
		return nil
	}
	if age := r.opts.Clock.Since(ev.SettledAt); age < r.opts.StuckAfter {
		return nil
	}
	return fmt.Errorf("%w: event %s written %s", ErrStuckClaim, ev.EventID, ev.SettledAt.UTC().Format(time.RFC3339))
}

func (r *Reconciler) release(ctx context.Context, s Settlement) {
	if err := r.ledger.ReleaseClaim(ctx, s); err != nil {
		r.logger.Error("Fallback claim release failed", "wager_id", s.WagerID, "error", err)
	}
}

// notify is fire-and-warn: bounded by NotifyTimeout, never fails the
// settlement it describes.
func (r *Reconciler) notify(ctx context.Context, s Settlement) {
	if r.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, r.opts.NotifyTimeout)
	defer cancel()
	if err := r.notifier.NotifySettlement(nctx, s); err != nil {
		r.logger.Warn("Settlement notification failed", "wager_id", s.WagerID, "error", err)
	}
}
