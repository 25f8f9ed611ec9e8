package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-sim/internal/settlement"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, userID, message string) error {
	return m.Called(userID, message).Error(0)
}

func intPtr(n int) *int { return &n }

func TestScheduleDelivery(t *testing.T) {
	cases := []struct {
		name string
		now  string
		tz   string
		want string
	}{
		{"waking hours", "2026-03-10T14:00:00Z", "UTC", "2026-03-10T14:00:00Z"},
		{"late evening defers to morning", "2026-03-10T23:30:00Z", "UTC", "2026-03-11T09:00:00Z"},
		{"early morning same day", "2026-03-10T03:00:00Z", "UTC", "2026-03-10T09:00:00Z"},
		{"local time decides", "2026-03-10T14:00:00Z", "Asia/Tokyo", "2026-03-11T09:00:00+09:00"},
		{"unknown zone is utc", "2026-03-10T22:00:00Z", "Mars/Olympus", "2026-03-11T09:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now, _ := time.Parse(time.RFC3339, tc.now)
			want, _ := time.Parse(time.RFC3339, tc.want)
			got := ScheduleDelivery(now, tc.tz)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestBuildMessage(t *testing.T) {
	s := settlement.Settlement{
		MatchID:   "league-en-week-1-match-0-arsenal-vs-manchester-city",
		Status:    settlement.StatusWon,
		Payout:    decimal.RequireFromString("25"),
		HomeGoals: intPtr(3),
		AwayGoals: intPtr(1),
	}
	assert.Equal(t, "You won 25.00 on Arsenal vs Manchester City (3-1)", BuildMessage(s))

	s.Status = settlement.StatusLost
	assert.Equal(t, "Your wager on Arsenal vs Manchester City (3-1) lost", BuildMessage(s))

	s.Status = settlement.StatusVoid
	s.MatchID = "not-a-match"
	s.HomeGoals, s.AwayGoals = nil, nil
	s.Payout = decimal.RequireFromString("7.5")
	assert.Equal(t, "Your wager on not-a-match was voided, 7.50 refunded", BuildMessage(s))
}

func TestOutbox_queuesOncePerWager(t *testing.T) {
	store := NewMemoryStore()
	store.SetTimezone("u1", "UTC")
	ob := NewOutbox(store, discard())
	ob.now = func() time.Time { return time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC) }

	s := settlement.Settlement{WagerID: "w1", UserID: "u1", MatchID: "m", Status: settlement.StatusLost}
	require.NoError(t, ob.NotifySettlement(context.Background(), s))
	require.NoError(t, ob.NotifySettlement(context.Background(), s))
	assert.Equal(t, "scheduled", store.Status("w1"))

	// Quiet hours: nothing due until 09:00 next morning.
	sender := &mockSender{}
	sent, failed, err := DispatchBatch(context.Background(), store, sender, ob.now(), discard())
	require.NoError(t, err)
	assert.Zero(t, sent+failed)

	sender.On("Send", "u1", "Your wager on m lost").Return(nil).Once()
	morning := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	sent, failed, err = DispatchBatch(context.Background(), store, sender, morning, discard())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Equal(t, "sent", store.Status("w1"))
	sender.AssertExpectations(t)
}

func TestOutbox_unknownTimezoneStillQueues(t *testing.T) {
	store := NewMemoryStore()
	ob := NewOutbox(store, discard())
	require.NoError(t, ob.NotifySettlement(context.Background(), settlement.Settlement{WagerID: "w", UserID: "ghost"}))
	assert.Equal(t, "scheduled", store.Status("w"))
}

func TestDispatchBatch_marksFailures(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Insert(context.Background(), Pending{UserID: "a", WagerID: "w1", Message: "one", ScheduleFor: now}))
	require.NoError(t, store.Insert(context.Background(), Pending{UserID: "b", WagerID: "w2", Message: "two", ScheduleFor: now}))

	sender := &mockSender{}
	sender.On("Send", "a", "one").Return(nil)
	sender.On("Send", "b", "two").Return(errors.New("chat not found"))

	sent, failed, err := DispatchBatch(context.Background(), store, sender, now, discard())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "sent", store.Status("w1"))
	assert.Equal(t, "failed", store.Status("w2"))

	// Claimed rows are not claimed again.
	sent, failed, err = DispatchBatch(context.Background(), store, sender, now, discard())
	require.NoError(t, err)
	assert.Zero(t, sent+failed)
}

func TestCleanup(t *testing.T) {
	store := NewMemoryStore()
	old := time.Now().Add(-40 * 24 * time.Hour)
	store.now = func() time.Time { return old }
	require.NoError(t, store.Insert(context.Background(), Pending{WagerID: "w1", ScheduleFor: old}))
	require.NoError(t, store.Insert(context.Background(), Pending{WagerID: "w2", ScheduleFor: old}))
	require.NoError(t, store.MarkSent(context.Background(), 1))

	n, err := Cleanup(context.Background(), store, time.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "", store.Status("w1"))
	assert.Equal(t, "scheduled", store.Status("w2"))
}

func TestDirect(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", "u", "Your wager on x lost").Return(nil)
	d := NewDirect(sender)
	require.NoError(t, d.NotifySettlement(context.Background(), settlement.Settlement{UserID: "u", MatchID: "x", Status: settlement.StatusLost}))
	sender.AssertExpectations(t)
}
