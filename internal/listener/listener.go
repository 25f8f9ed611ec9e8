// Package listener provides a Postgres LISTEN/NOTIFY consumer that wakes the
// settlement reconciler as soon as a final outcome is published. It holds a
// dedicated pgx connection (not from the pool) listening on the
// `outcome_published` channel.
//
// The reconciler still runs on its own interval, so a dropped notification
// only delays settlement until the next tick.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/scoracle-sim/internal/outcome"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Start opens a dedicated connection and listens on outcome.NotifyChannel,
// calling wake for every notification. It reconnects automatically on
// connection loss. Blocks until ctx is cancelled. Intended to be called with
// `go`.
func Start(ctx context.Context, dbURL string, wake func(matchID string), logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, wake, logger)
		if ctx.Err() != nil {
			logger.Info("Outcome listener stopped (context cancelled)")
			return
		}

		logger.Error("Outcome listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxReconnect)
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, wake func(string), logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+outcome.NotifyChannel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", outcome.NotifyChannel, err)
	}
	logger.Info("Outcome listener connected", "channel", outcome.NotifyChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		logger.Debug("Outcome published", "match_id", notification.Payload)
		wake(notification.Payload)
	}
}
