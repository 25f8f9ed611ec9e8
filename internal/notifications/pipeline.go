package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/settlement"
)

// Outbox is the settlement.Notifier backed by the notifications table.
type Outbox struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewOutbox(store Store, logger *slog.Logger) *Outbox {
	return &Outbox{store: store, now: time.Now, logger: logger}
}

// NotifySettlement builds the message, schedules it outside the user's quiet
// hours and persists it for the dispatch worker.
func (o *Outbox) NotifySettlement(ctx context.Context, s settlement.Settlement) error {
	tz, err := o.store.UserTimezone(ctx, s.UserID)
	if err != nil {
		o.logger.Debug("No timezone for user, using UTC", "user_id", s.UserID, "error", err)
		tz = "UTC"
	}

	p := Pending{
		UserID:      s.UserID,
		WagerID:     s.WagerID,
		MatchID:     s.MatchID,
		Status:      string(s.Status),
		Message:     BuildMessage(s),
		ScheduleFor: ScheduleDelivery(o.now(), tz),
	}
	if err := o.store.Insert(ctx, p); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// Direct sends immediately, without an outbox. Used when no database is
// configured.
type Direct struct {
	sender Sender
}

func NewDirect(sender Sender) *Direct {
	return &Direct{sender: sender}
}

func (d *Direct) NotifySettlement(ctx context.Context, s settlement.Settlement) error {
	return d.sender.Send(ctx, s.UserID, BuildMessage(s))
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// BuildMessage renders a settlement as one line of text.
func BuildMessage(s settlement.Settlement) string {
	fixture := describeMatch(s.MatchID)
	if s.HomeGoals != nil && s.AwayGoals != nil {
		fixture = fmt.Sprintf("%s (%d-%d)", fixture, *s.HomeGoals, *s.AwayGoals)
	}

	switch s.Status {
	case settlement.StatusWon:
		return fmt.Sprintf("You won %s on %s", s.Payout.StringFixed(2), fixture)
	case settlement.StatusLost:
		return fmt.Sprintf("Your wager on %s lost", fixture)
	case settlement.StatusVoid:
		return fmt.Sprintf("Your wager on %s was voided, %s refunded", fixture, s.Payout.StringFixed(2))
	default:
		return fmt.Sprintf("Your wager on %s is %s", fixture, s.Status)
	}
}

// describeMatch turns a match id back into "home vs away", falling back to
// the raw id for anything it cannot parse.
func describeMatch(id string) string {
	c, err := match.ParseID(id)
	if err != nil {
		return id
	}
	return fmt.Sprintf("%s vs %s", titleSlug(c.HomeSlug), titleSlug(c.AwaySlug))
}

func titleSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
