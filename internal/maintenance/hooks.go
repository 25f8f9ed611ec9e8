package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/scoracle-sim/internal/match"
)

// RefreshMatches makes sure every league has a published fixture cycle and
// swaps a freshly built resolver into the holder. Readers keep using the
// previous resolver until the swap. Call this after publishing or advancing
// a cycle.
func (t *Tasks) RefreshMatches(ctx context.Context, logger *slog.Logger) error {
	start := time.Now()
	r, err := match.Build(ctx, t.Fixtures, t.Leagues, t.MatchOptions)
	dur := time.Since(start).Round(time.Millisecond)

	if err != nil {
		logger.Warn("Failed to refresh match pool", "duration", dur, "error", err)
		return fmt.Errorf("refresh matches: %w", err)
	}
	t.Matches.Store(r)
	logger.Info("Refreshed match pool",
		"size", r.Size(), "natural", r.NaturalSize(), "duration", dur)
	return nil
}
