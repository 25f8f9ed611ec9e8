package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the persistence the reconciler settles through.
//
// SettleAtomic is the preferred path: status CAS, audit event and credit in
// one transaction, returning ErrRaceLost when the wager is no longer pending
// and ErrTransactionUnavailable when it cannot open a transaction at all.
// The remaining methods are the fallback primitives, each a single write.
type Ledger interface {
	// PendingWagers returns up to limit pending wagers, oldest first, whose
	// match has a published result. Wagers on unpublished matches are not
	// returned so they cannot hold up the batch.
	PendingWagers(ctx context.Context, limit int) ([]PendingWager, error)
	SettleAtomic(ctx context.Context, s Settlement) error

	WagerStatus(ctx context.Context, wagerID string) (Status, error)
	// ClaimSettlement inserts the one settlement event allowed per wager and
	// reports false if one already exists.
	ClaimSettlement(ctx context.Context, s Settlement) (bool, error)
	ReleaseClaim(ctx context.Context, s Settlement) error
	// SettlementEvent returns the event recorded for a wager, if any.
	SettlementEvent(ctx context.Context, wagerID string) (Settlement, bool, error)
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error
	// MarkSettled moves the wager out of pending and reports false if it was
	// no longer pending.
	MarkSettled(ctx context.Context, s Settlement) (bool, error)
}

// OutcomeLookup returns the raw outcome record for a match, or nil.
type OutcomeLookup func(matchID string) map[string]any

// --------------------------------------------------------------------------
// In-memory ledger
// --------------------------------------------------------------------------

// MemoryLedger is a concurrency-safe Ledger for tests and local simulation.
type MemoryLedger struct {
	mu       sync.Mutex
	wagers   map[string]*Wager
	order    []string
	balances map[string]decimal.Decimal
	events   map[string]Settlement
	lookup   OutcomeLookup
}

func NewMemoryLedger(lookup OutcomeLookup) *MemoryLedger {
	if lookup == nil {
		lookup = func(string) map[string]any { return nil }
	}
	return &MemoryLedger{
		wagers:   make(map[string]*Wager),
		balances: make(map[string]decimal.Decimal),
		events:   make(map[string]Settlement),
		lookup:   lookup,
	}
}

// AddWager registers a pending wager. The id defaults to a new UUID.
func (l *MemoryLedger) AddWager(w Wager) Wager {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = StatusPending
	}
	if _, ok := l.wagers[w.ID]; !ok {
		l.order = append(l.order, w.ID)
	}
	cp := w
	l.wagers[w.ID] = &cp
	return w
}

func (l *MemoryLedger) SetBalance(userID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

func (l *MemoryLedger) Balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *MemoryLedger) Wager(id string) (Wager, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wagers[id]
	if !ok {
		return Wager{}, false
	}
	return *w, true
}

// Events returns the settlement events ordered by wager id.
func (l *MemoryLedger) Events() []Settlement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Settlement, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WagerID < out[j].WagerID })
	return out
}

func (l *MemoryLedger) PendingWagers(_ context.Context, limit int) ([]PendingWager, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []PendingWager
	for _, id := range l.order {
		w := l.wagers[id]
		if w.Status != StatusPending {
			continue
		}
		res := l.lookup(w.MatchID)
		if res == nil {
			continue
		}
		out = append(out, PendingWager{Wager: *w, Result: res})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) SettleAtomic(_ context.Context, s Settlement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wagers[s.WagerID]
	if !ok {
		return fmt.Errorf("settle wager %s: not found", s.WagerID)
	}
	if w.Status != StatusPending {
		return ErrRaceLost
	}
	if _, claimed := l.events[s.WagerID]; claimed {
		return ErrRaceLost
	}
	w.Status, w.Payout = s.Status, s.Payout
	l.events[s.WagerID] = s
	if s.Payout.IsPositive() {
		l.balances[s.UserID] = l.balances[s.UserID].Add(s.Payout)
	}
	return nil
}

func (l *MemoryLedger) WagerStatus(_ context.Context, wagerID string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wagers[wagerID]
	if !ok {
		return "", fmt.Errorf("wager %s: not found", wagerID)
	}
	return w.Status, nil
}

func (l *MemoryLedger) ClaimSettlement(_ context.Context, s Settlement) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[s.WagerID]; ok {
		return false, nil
	}
	l.events[s.WagerID] = s
	return true, nil
}

func (l *MemoryLedger) ReleaseClaim(_ context.Context, s Settlement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.events[s.WagerID]; ok && e.EventID == s.EventID {
		delete(l.events, s.WagerID)
	}
	return nil
}

func (l *MemoryLedger) SettlementEvent(_ context.Context, wagerID string) (Settlement, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.events[wagerID]
	return s, ok, nil
}

func (l *MemoryLedger) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.balances[userID].Add(amount)
	return nil
}

func (l *MemoryLedger) MarkSettled(_ context.Context, s Settlement) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wagers[s.WagerID]
	if !ok || w.Status != StatusPending {
		return false, nil
	}
	w.Status, w.Payout = s.Status, s.Payout
	return true, nil
}

// stamp fills the generated parts of a settlement.
func stamp(s Settlement, now time.Time) Settlement {
	if s.EventID == uuid.Nil {
		s.EventID = uuid.New()
	}
	if s.SettledAt.IsZero() {
		s.SettledAt = now.UTC()
	}
	return s
}
