package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// StartWorker runs a background loop that sends due notifications.
// Blocks until ctx is cancelled. Intended to be called with `go`.
func StartWorker(ctx context.Context, store Store, sender Sender, clk clock.Clock, logger *slog.Logger) {
	if clk == nil {
		clk = clock.New()
	}
	logger.Info("Notification dispatch worker started", "interval", dispatchInterval)
	ticker := clk.Ticker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, failed, err := DispatchBatch(ctx, store, sender, clk.Now(), logger)
			if err != nil {
				logger.Error("dispatch error", "error", err)
			} else if sent+failed > 0 {
				logger.Info("dispatch batch", "sent", sent, "failed", failed)
			}
		case <-ctx.Done():
			logger.Info("Notification dispatch worker stopped")
			return
		}
	}
}

// DispatchBatch claims notifications due at now and sends them.
func DispatchBatch(ctx context.Context, store Store, sender Sender, now time.Time, logger *slog.Logger) (sent, failed int, err error) {
	claimed, err := store.ClaimDue(ctx, now, dispatchBatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range claimed {
		if sendErr := sender.Send(ctx, row.UserID, row.Message); sendErr != nil {
			logger.Warn("send failed", "notification_id", row.ID, "wager_id", row.WagerID, "error", sendErr)
			_ = store.MarkFailed(ctx, row.ID, sendErr.Error())
			failed++
			continue
		}
		_ = store.MarkSent(ctx, row.ID)
		sent++
	}
	return sent, failed, nil
}

// Cleanup removes delivered and failed notifications older than retention
// (30 days when zero).
func Cleanup(ctx context.Context, store Store, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	return store.Cleanup(ctx, now.Add(-retention))
}
