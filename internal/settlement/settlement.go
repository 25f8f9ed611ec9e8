// Package settlement resolves pending wagers against published outcomes and
// applies each resolution to the wager and the user's balance exactly once.
//
// Per wager: extract scores → decide (skip, void, won, lost) → apply through
// the Ledger (atomic, else fallback) → notify. A wager leaves pending at most
// once; every write is guarded by a "still pending" precondition.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultBatchSize     = 100
	defaultWorkers       = 2
	defaultInterval      = 30 * time.Second
	defaultNotifyTimeout = 5 * time.Second
	defaultStuckAfter    = 2 * time.Minute
)

var (
	// ErrRaceLost means another worker settled the wager first. Callers treat
	// it as a successful no-op.
	ErrRaceLost = errors.New("settlement race lost")

	// ErrTransactionUnavailable means the ledger cannot run the atomic path;
	// the reconciler switches to the sequential fallback.
	ErrTransactionUnavailable = errors.New("settlement transaction unavailable")

	// ErrStuckClaim means a settlement event exists for a wager that is
	// still pending and no worker finished it within StuckAfter. The credit
	// may or may not have been applied, so the wager needs review.
	ErrStuckClaim = errors.New("settlement event exists but wager still pending")
)

// Status is a wager's lifecycle state. pending is the only non-terminal one.
type Status string

const (
	StatusPending Status = "pending"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
	StatusVoid    Status = "void"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Wager mirrors the wagers table. Placement happens elsewhere.
type Wager struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	MatchID   string          `json:"match_id"`
	BetType   string          `json:"bet_type"`
	Selection string          `json:"selection"`
	Stake     decimal.Decimal `json:"stake"`
	Odds      decimal.Decimal `json:"odds"`
	Status    Status          `json:"status"`
	Payout    decimal.Decimal `json:"payout"`
}

// PendingWager is a wager together with the raw outcome record stored for
// its match. Ledgers only return wagers whose record exists.
type PendingWager struct {
	Wager
	Result map[string]any
}

// Settlement is one decided resolution, written once per wager.
type Settlement struct {
	EventID   uuid.UUID       `json:"event_id"`
	WagerID   string          `json:"wager_id"`
	UserID    string          `json:"user_id"`
	MatchID   string          `json:"match_id"`
	Status    Status          `json:"status"`
	Stake     decimal.Decimal `json:"stake"`
	Payout    decimal.Decimal `json:"payout"`
	HomeGoals *int            `json:"home_goals,omitempty"`
	AwayGoals *int            `json:"away_goals,omitempty"`
	Shape     string          `json:"shape"`
	Reason    string          `json:"reason,omitempty"`
	SettledAt time.Time       `json:"settled_at"`
}

// Result is what happened to one wager during a pass.
type Result struct {
	WagerID  string
	Status   Status
	Payout   decimal.Decimal
	Skipped  bool
	RaceLost bool
	Fallback bool
	Error    string
}

// PassResult aggregates one reconciler pass.
type PassResult struct {
	Fetched  int
	Settled  int
	Won      int
	Lost     int
	Void     int
	Skipped  int
	RaceLost int
	Fallback int
	Failed   int
	Errors   []string
	Duration time.Duration
}

// Summary returns a human-readable summary.
func (r *PassResult) Summary() string {
	return fmt.Sprintf("fetched=%d settled=%d (won=%d lost=%d void=%d) skipped=%d race_lost=%d fallback=%d failed=%d dur=%s",
		r.Fetched, r.Settled, r.Won, r.Lost, r.Void, r.Skipped, r.RaceLost, r.Fallback, r.Failed,
		r.Duration.Round(time.Millisecond))
}

func (r *PassResult) add(res Result) {
	switch {
	case res.Error != "":
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("wager %s: %s", res.WagerID, res.Error))
	case res.Skipped:
		r.Skipped++
	case res.RaceLost:
		r.RaceLost++
	default:
		r.Settled++
		switch res.Status {
		case StatusWon:
			r.Won++
		case StatusLost:
			r.Lost++
		case StatusVoid:
			r.Void++
		}
	}
	if res.Fallback {
		r.Fallback++
	}
}

// Payout is the amount credited for a terminal status: stake*odds rounded to
// cents when won, the stake back when void, nothing when lost.
func Payout(w Wager, s Status) decimal.Decimal {
	switch s {
	case StatusWon:
		return w.Stake.Mul(w.Odds).Round(2)
	case StatusVoid:
		return w.Stake
	default:
		return decimal.Zero
	}
}
