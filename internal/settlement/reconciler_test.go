package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// outcomes is a fixed lookup table standing in for the outcome store.
type outcomes map[string]map[string]any

func (o outcomes) lookup(matchID string) map[string]any { return o[matchID] }

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifySettlement(ctx context.Context, s Settlement) error {
	return m.Called(ctx, s).Error(0)
}

func newFixture(t *testing.T, results outcomes) (*MemoryLedger, *mockNotifier, *Reconciler) {
	t.Helper()
	ledger := NewMemoryLedger(results.lookup)
	ledger.SetBalance("u1", dec("100"))
	n := &mockNotifier{}
	n.On("NotifySettlement", mock.Anything, mock.Anything).Return(nil).Maybe()
	rec := NewReconciler(ledger, n, Options{BatchSize: 50, Workers: 4}, quietLogger())
	return ledger, n, rec
}

func TestRunPass_wonAndLost(t *testing.T) {
	ledger, n, rec := newFixture(t, outcomes{
		"m-home": {"home_goals": 3, "away_goals": 1, "is_final": true},
		"m-away": {"home_goals": 1, "away_goals": 3, "is_final": true},
	})
	won := ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m-home", BetType: "1x2", Selection: "1", Stake: dec("10"), Odds: dec("2.50")})
	lost := ledger.AddWager(Wager{ID: "w2", UserID: "u1", MatchID: "m-away", BetType: "1x2", Selection: "1", Stake: dec("10"), Odds: dec("2.50")})

	res := rec.RunPass(context.Background())
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Settled)
	assert.Equal(t, 1, res.Won)
	assert.Equal(t, 1, res.Lost)
	assert.Empty(t, res.Errors)

	w, _ := ledger.Wager(won.ID)
	assert.Equal(t, StatusWon, w.Status)
	assert.Equal(t, "25.00", w.Payout.StringFixed(2))

	l, _ := ledger.Wager(lost.ID)
	assert.Equal(t, StatusLost, l.Status)
	assert.True(t, l.Payout.IsZero())

	assert.Equal(t, "125.00", ledger.Balance("u1").StringFixed(2))
	assert.Len(t, ledger.Events(), 2)
	n.AssertNumberOfCalls(t, "NotifySettlement", 2)
}

func TestRunPass_finishedWithoutScoresVoids(t *testing.T) {
	ledger, _, rec := newFixture(t, outcomes{
		"m1": {"homeScore": "abandoned", "awayScore": nil, "status": "finished"},
	})
	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "1x2", Selection: "2", Stake: dec("7.50"), Odds: dec("3")})

	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Void)

	w, _ := ledger.Wager("w1")
	assert.Equal(t, StatusVoid, w.Status)
	assert.True(t, w.Payout.Equal(dec("7.50")))
	assert.Equal(t, "107.50", ledger.Balance("u1").StringFixed(2))

	events := ledger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ShapeLegacyA, events[0].Shape)
	assert.Nil(t, events[0].HomeGoals)
}

func TestRunPass_unknownBetTypeVoids(t *testing.T) {
	ledger, _, rec := newFixture(t, outcomes{
		"m1": {"home_goals": 0, "away_goals": 0, "is_final": true},
	})
	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "asian_handicap", Selection: "-0.5", Stake: dec("5"), Odds: dec("1.9")})

	rec.RunPass(context.Background())
	w, _ := ledger.Wager("w1")
	assert.Equal(t, StatusVoid, w.Status)
	assert.Equal(t, "105.00", ledger.Balance("u1").StringFixed(2))
}

func TestRunPass_leavesUnresolvedPending(t *testing.T) {
	ledger, n, rec := newFixture(t, outcomes{
		"in-play": {"home_goals": 1, "away_goals": 0, "is_final": false},
	})
	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "in-play", BetType: "1x2", Selection: "1", Stake: dec("1"), Odds: dec("2")})
	ledger.AddWager(Wager{ID: "w2", UserID: "u1", MatchID: "unpublished", BetType: "1x2", Selection: "1", Stake: dec("1"), Odds: dec("2")})

	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Fetched, "unpublished matches are not fetched")
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Settled)

	for _, id := range []string{"w1", "w2"} {
		w, _ := ledger.Wager(id)
		assert.Equal(t, StatusPending, w.Status)
	}
	assert.Equal(t, "100.00", ledger.Balance("u1").StringFixed(2))
	n.AssertNotCalled(t, "NotifySettlement", mock.Anything, mock.Anything)
}

func TestRunPass_unpublishedWagersDoNotFillBatch(t *testing.T) {
	ledger := NewMemoryLedger(outcomes{
		"m-final": {"home_goals": 3, "away_goals": 1, "is_final": true},
	}.lookup)
	ledger.SetBalance("u1", dec("100"))
	for _, id := range []string{"old-1", "old-2", "old-3"} {
		ledger.AddWager(Wager{ID: id, UserID: "u1", MatchID: "m-later", BetType: "1x2", Selection: "1", Stake: dec("1"), Odds: dec("2")})
	}
	ledger.AddWager(Wager{ID: "w-final", UserID: "u1", MatchID: "m-final", BetType: "1x2", Selection: "1", Stake: dec("10"), Odds: dec("2")})

	rec := NewReconciler(ledger, nil, Options{BatchSize: 3, Workers: 1}, quietLogger())
	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Won)

	w, _ := ledger.Wager("w-final")
	assert.Equal(t, StatusWon, w.Status)
	assert.Equal(t, "120.00", ledger.Balance("u1").StringFixed(2))
	for _, id := range []string{"old-1", "old-2", "old-3"} {
		w, _ := ledger.Wager(id)
		assert.Equal(t, StatusPending, w.Status)
	}
}

func TestRunPass_idempotent(t *testing.T) {
	ledger, _, rec := newFixture(t, outcomes{
		"m1": {"home_goals": 2, "away_goals": 2, "is_final": true},
	})
	for _, id := range []string{"a", "b", "c"} {
		ledger.AddWager(Wager{ID: id, UserID: "u1", MatchID: "m1", BetType: "1x2", Selection: "X", Stake: dec("2"), Odds: dec("3.10")})
	}

	first := rec.RunPass(context.Background())
	assert.Equal(t, 3, first.Won)
	balance := ledger.Balance("u1")

	second := rec.RunPass(context.Background())
	assert.Zero(t, second.Fetched)
	assert.True(t, balance.Equal(ledger.Balance("u1")))
	assert.Equal(t, "118.60", balance.StringFixed(2))
}

func TestSettleOne_staleBatchIsRaceLost(t *testing.T) {
	ledger, _, rec := newFixture(t, outcomes{
		"m1": {"home_goals": 1, "away_goals": 0, "is_final": true},
	})
	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "1x2", Selection: "1", Stake: dec("10"), Odds: dec("2")})

	// Two workers fetched the same batch; the second one applies late.
	batch, err := ledger.PendingWagers(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	first := rec.SettleOne(context.Background(), batch[0])
	assert.False(t, first.RaceLost)
	second := rec.SettleOne(context.Background(), batch[0])
	assert.True(t, second.RaceLost)
	assert.Empty(t, second.Error)

	assert.Equal(t, "120.00", ledger.Balance("u1").StringFixed(2))
}

func TestRunPass_concurrentReconcilersSettleOnce(t *testing.T) {
	results := outcomes{"m1": {"home_goals": 4, "away_goals": 0, "is_final": true}}
	ledger := NewMemoryLedger(results.lookup)
	for i := 0; i < 40; i++ {
		ledger.AddWager(Wager{UserID: "u1", MatchID: "m1", BetType: "correct_score", Selection: "4-0", Stake: dec("1"), Odds: dec("10")})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewReconciler(ledger, nil, Options{BatchSize: 40, Workers: 3}, quietLogger()).RunPass(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, "400.00", ledger.Balance("u1").StringFixed(2))
	assert.Len(t, ledger.Events(), 40)
}

func TestRunPass_notificationFailureDoesNotBlock(t *testing.T) {
	results := outcomes{"m1": {"home_goals": 1, "away_goals": 0, "is_final": true}}
	ledger := NewMemoryLedger(results.lookup)
	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "1x2", Selection: "1", Stake: dec("10"), Odds: dec("2")})

	n := &mockNotifier{}
	n.On("NotifySettlement", mock.Anything, mock.MatchedBy(func(s Settlement) bool {
		return s.WagerID == "w1" && s.Status == StatusWon
	})).Return(errors.New("push gateway down")).Once()

	rec := NewReconciler(ledger, n, Options{NotifyTimeout: 50 * time.Millisecond}, quietLogger())
	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Won)
	assert.Zero(t, res.Failed)

	w, _ := ledger.Wager("w1")
	assert.Equal(t, StatusWon, w.Status)
	n.AssertExpectations(t)
}

// --------------------------------------------------------------------------
// Fallback path
// --------------------------------------------------------------------------

// noTxLedger forces the fallback path and can fail individual steps.
type noTxLedger struct {
	*MemoryLedger
	failCredit error
	failMark   error
	credits    int
}

func (l *noTxLedger) SettleAtomic(context.Context, Settlement) error {
	return ErrTransactionUnavailable
}

func (l *noTxLedger) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	l.credits++
	if l.failCredit != nil && amount.IsPositive() {
		return l.failCredit
	}
	return l.MemoryLedger.CreditBalance(ctx, userID, amount)
}

func (l *noTxLedger) MarkSettled(ctx context.Context, s Settlement) (bool, error) {
	if l.failMark != nil {
		return false, l.failMark
	}
	return l.MemoryLedger.MarkSettled(ctx, s)
}

func newNoTx(t *testing.T) *noTxLedger {
	t.Helper()
	results := outcomes{"m1": {"score": "3-1", "finished": true}}
	l := &noTxLedger{MemoryLedger: NewMemoryLedger(results.lookup)}
	l.SetBalance("u1", dec("50"))
	l.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "1x2", Selection: "1", Stake: dec("4"), Odds: dec("1.75")})
	return l
}

func TestFallback_settles(t *testing.T) {
	l := newNoTx(t)
	rec := NewReconciler(l, nil, Options{}, quietLogger())

	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Won)
	assert.Equal(t, 1, res.Fallback)

	w, _ := l.Wager("w1")
	assert.Equal(t, StatusWon, w.Status)
	assert.Equal(t, "57.00", l.Balance("u1").StringFixed(2))
	assert.Len(t, l.Events(), 1)

	// Second pass sees nothing pending.
	again := rec.RunPass(context.Background())
	assert.Zero(t, again.Fetched)
	assert.Equal(t, "57.00", l.Balance("u1").StringFixed(2))
}

func TestFallback_creditFailureLeavesPending(t *testing.T) {
	l := newNoTx(t)
	l.failCredit = errors.New("balance service timeout")
	rec := NewReconciler(l, nil, Options{}, quietLogger())

	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "fallback credit")

	w, _ := l.Wager("w1")
	assert.Equal(t, StatusPending, w.Status)
	assert.Equal(t, "50.00", l.Balance("u1").StringFixed(2))
	assert.Empty(t, l.Events(), "claim must be released")
}

func TestFallback_markFailureCompensates(t *testing.T) {
	l := newNoTx(t)
	l.failMark = errors.New("connection reset")
	rec := NewReconciler(l, nil, Options{}, quietLogger())

	res := rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Failed)

	w, _ := l.Wager("w1")
	assert.Equal(t, StatusPending, w.Status)
	assert.Equal(t, "50.00", l.Balance("u1").StringFixed(2))
	assert.Equal(t, 2, l.credits, "credit then debit")
	assert.Empty(t, l.Events())

	// Next pass, with the fault gone, settles normally.
	l.failMark = nil
	res = rec.RunPass(context.Background())
	assert.Equal(t, 1, res.Won)
	assert.Equal(t, "57.00", l.Balance("u1").StringFixed(2))
}

func TestFallback_freshClaimIsRaceLost(t *testing.T) {
	l := newNoTx(t)
	// Another worker claimed a moment ago and has not marked yet.
	_, err := l.ClaimSettlement(context.Background(), stamp(Settlement{WagerID: "w1", UserID: "u1"}, time.Now()))
	require.NoError(t, err)

	res := NewReconciler(l, nil, Options{StuckAfter: time.Minute}, quietLogger()).RunPass(context.Background())
	assert.Equal(t, 1, res.RaceLost)
	assert.Zero(t, res.Failed)
	assert.Equal(t, "50.00", l.Balance("u1").StringFixed(2))
}

func TestFallback_leftoverClaimIsReportedStuck(t *testing.T) {
	l := newNoTx(t)
	_, err := l.ClaimSettlement(context.Background(), stamp(Settlement{WagerID: "w1", UserID: "u1"}, time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	rec := NewReconciler(l, nil, Options{StuckAfter: time.Minute}, quietLogger())
	res := rec.RunPass(context.Background())
	assert.Zero(t, res.RaceLost)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], ErrStuckClaim.Error())

	w, _ := l.Wager("w1")
	assert.Equal(t, StatusPending, w.Status)
	assert.Equal(t, "50.00", l.Balance("u1").StringFixed(2))

	// It keeps being reported until someone resolves it.
	again := rec.RunPass(context.Background())
	assert.Equal(t, 1, again.Failed)
}

func TestSettleOne_leftoverClaimOnAtomicPathIsStuck(t *testing.T) {
	ledger, _, rec := newFixture(t, outcomes{
		"m1": {"home_goals": 2, "away_goals": 0, "is_final": true},
	})
	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "1x2", Selection: "1", Stake: dec("10"), Odds: dec("2")})
	_, err := ledger.ClaimSettlement(context.Background(), stamp(Settlement{WagerID: "w1", UserID: "u1"}, time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	batch, err := ledger.PendingWagers(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	res := rec.SettleOne(context.Background(), batch[0])
	assert.False(t, res.RaceLost)
	assert.Contains(t, res.Error, ErrStuckClaim.Error())
	assert.Equal(t, "100.00", ledger.Balance("u1").StringFixed(2))
}

// --------------------------------------------------------------------------
// Run loop
// --------------------------------------------------------------------------

func TestRun_wakeTriggersPass(t *testing.T) {
	results := outcomes{}
	ledger := NewMemoryLedger(func(id string) map[string]any { return results[id] })
	rec := NewReconciler(ledger, nil, Options{Interval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	ledger.AddWager(Wager{ID: "w1", UserID: "u1", MatchID: "m1", BetType: "btts", Selection: "no", Stake: dec("1"), Odds: dec("2")})
	// The lookup is read under the ledger lock inside PendingWagers.
	ledger.mu.Lock()
	results["m1"] = map[string]any{"home_goals": 0, "away_goals": 0, "is_final": true}
	ledger.mu.Unlock()

	require.Eventually(t, func() bool {
		rec.Wake()
		w, _ := ledger.Wager("w1")
		return w.Status == StatusWon
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
