// Package notifications tells users how their wagers settled.
//
// Pipeline: settlement → build message → schedule delivery (quiet hours in
// the user's timezone) → persist to the outbox. A background dispatch worker
// sends due notifications through a Sender (Telegram or log).
//
// Everything here is best effort: the reconciler logs a failed notification
// and moves on.
package notifications

import "time"

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	quietStartHour    = 22 // 10 PM local
	quietEndHour      = 9  // 9 AM local
	dispatchInterval  = 30 * time.Second
	dispatchBatchSize = 100
	defaultRetention  = 30 * 24 * time.Hour
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Pending is a notification ready to be persisted with a scheduled time.
type Pending struct {
	UserID      string
	WagerID     string
	MatchID     string
	Status      string
	Message     string
	ScheduleFor time.Time
}

// claimedRow is a notification claimed for sending.
type claimedRow struct {
	ID      int64
	UserID  string
	WagerID string
	Message string
}
