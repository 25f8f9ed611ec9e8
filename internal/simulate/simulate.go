// Package simulate drives the in-memory pipeline end to end: place wagers on
// upcoming slots, advance a mock clock past them, publish outcomes and
// settle. The same seed always produces the same report.
package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/albapepper/scoracle-sim/internal/app"
	"github.com/albapepper/scoracle-sim/internal/detrand"
	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/schedule"
	"github.com/albapepper/scoracle-sim/internal/settlement"
)

const (
	startingBalance = 1000
	maxPasses       = 50
)

// Fixed prices for markets the synthetic odds do not cover.
var marketOdds = map[string]decimal.Decimal{
	settlement.BetDoubleChance: decimal.RequireFromString("1.30"),
	settlement.BetOverUnder:    decimal.RequireFromString("1.90"),
	settlement.BetBTTS:         decimal.RequireFromString("1.85"),
	settlement.BetCorrectScore: decimal.RequireFromString("9.00"),
}

var betTypes = []string{
	settlement.BetMatchResult,
	settlement.BetDoubleChance,
	settlement.BetOverUnder,
	settlement.BetBTTS,
	settlement.BetCorrectScore,
}

type Params struct {
	Components *app.Components
	Reconciler *settlement.Reconciler
	Schedule   schedule.Config
	Clock      *clock.Mock
	Slots      int
	Wagers     int
	Users      int
	Seed       string
	Stake      decimal.Decimal
}

// Report summarises one run. Money is rendered with two decimals.
type Report struct {
	Slots       int               `json:"slots"`
	Placed      int               `json:"placed"`
	Published   int               `json:"published"`
	Won         int               `json:"won"`
	Lost        int               `json:"lost"`
	Void        int               `json:"void"`
	Pending     int               `json:"pending"`
	Passes      int               `json:"passes"`
	TotalStaked string            `json:"total_staked"`
	TotalPaid   string            `json:"total_paid"`
	Balances    map[string]string `json:"balances"`
}

// Summary returns a human-readable summary.
func (r *Report) Summary() string {
	return fmt.Sprintf("slots=%d placed=%d published=%d won=%d lost=%d void=%d pending=%d staked=%s paid=%s",
		r.Slots, r.Placed, r.Published, r.Won, r.Lost, r.Void, r.Pending, r.TotalStaked, r.TotalPaid)
}

// Run places p.Wagers wagers on the first p.Slots slots after the clock's
// current time, moves the clock past them and settles everything.
func Run(ctx context.Context, p Params, logger *slog.Logger) (Report, error) {
	report := Report{Slots: p.Slots, Balances: make(map[string]string)}
	if p.Slots < 1 || p.Users < 1 {
		return report, fmt.Errorf("simulate: slots and users must be positive")
	}
	ledger, ok := p.Components.Ledger.(*settlement.MemoryLedger)
	if !ok {
		return report, fmt.Errorf("simulate: needs the in-memory ledger")
	}
	resolver := p.Components.Matches.Load()
	if resolver == nil {
		return report, fmt.Errorf("simulate: no match resolver loaded")
	}

	first, err := schedule.IndexForTime(p.Clock.Now(), p.Schedule)
	if err != nil {
		return report, err
	}

	users := make([]string, p.Users)
	balances := make(map[string]decimal.Decimal, p.Users)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d", i+1)
		balances[users[i]] = decimal.NewFromInt(startingBalance)
	}

	g := detrand.NewFromString("simulate|" + p.Seed)
	staked := decimal.Zero
	for k := 0; k < p.Wagers; k++ {
		m, err := resolver.MatchAt(first+int64(g.Intn(p.Slots)), p.Schedule)
		if err != nil {
			return report, err
		}
		user := users[g.Intn(len(users))]
		if balances[user].LessThan(p.Stake) {
			continue
		}
		w := pickWager(g, m)
		w.ID = fmt.Sprintf("sim-%04d", k+1)
		w.UserID = user
		w.Stake = p.Stake
		ledger.AddWager(w)
		balances[user] = balances[user].Sub(p.Stake)
		staked = staked.Add(p.Stake)
		report.Placed++
	}
	for user, b := range balances {
		ledger.SetBalance(user, b)
	}
	logger.Info("Wagers placed", "count", report.Placed, "users", len(users))

	// Let every slot finish, then publish.
	p.Clock.Add(time.Duration(p.Slots) * p.Schedule.Interval())
	pub, err := p.Components.Publisher.PublishUntil(ctx, p.Clock.Now(), p.Schedule)
	if err != nil {
		return report, err
	}
	report.Published = pub.Published

	paid := decimal.Zero
	for report.Passes < maxPasses {
		res := p.Reconciler.RunPass(ctx)
		report.Passes++
		report.Won += res.Won
		report.Lost += res.Lost
		report.Void += res.Void
		if res.Settled == 0 {
			break
		}
	}
	for _, s := range ledger.Events() {
		paid = paid.Add(s.Payout)
	}
	for _, u := range users {
		report.Balances[u] = ledger.Balance(u).StringFixed(2)
	}
	report.Pending = report.Placed - report.Won - report.Lost - report.Void
	report.TotalStaked = staked.StringFixed(2)
	report.TotalPaid = paid.StringFixed(2)
	return report, nil
}

// pickWager chooses a market and selection from g. Prices for 1X2 come from
// the match's own odds.
func pickWager(g *detrand.LCG, m match.Instance) settlement.Wager {
	w := settlement.Wager{MatchID: m.MatchID, BetType: betTypes[g.Intn(len(betTypes))]}
	switch w.BetType {
	case settlement.BetMatchResult:
		switch g.Intn(3) {
		case 0:
			w.Selection, w.Odds = "1", m.Odds.Home
		case 1:
			w.Selection, w.Odds = "X", m.Odds.Draw
		default:
			w.Selection, w.Odds = "2", m.Odds.Away
		}
		return w
	case settlement.BetDoubleChance:
		w.Selection = []string{"1X", "X2", "12"}[g.Intn(3)]
	case settlement.BetOverUnder:
		w.Selection = []string{"over 2.5", "under 2.5", "over 1.5", "under 3.5"}[g.Intn(4)]
	case settlement.BetBTTS:
		w.Selection = []string{"yes", "no"}[g.Intn(2)]
	case settlement.BetCorrectScore:
		w.Selection = fmt.Sprintf("%d-%d", g.Intn(5), g.Intn(5))
	}
	w.Odds = marketOdds[w.BetType]
	return w
}
