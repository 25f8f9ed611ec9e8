//go:build integration

package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/albapepper/scoracle-sim/internal/config"
	"github.com/albapepper/scoracle-sim/internal/db"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/schedule"
	"github.com/albapepper/scoracle-sim/internal/settlement"
)

// Run with: go test -tags integration ./internal/app/...
func startPostgres(t *testing.T) (*config.Config, *db.Pool) {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("scoracle"),
		postgres.WithUsername("scoracle"),
		postgres.WithPassword("scoracle"),
		postgres.WithInitScripts(filepath.Join("..", "..", "schema", "schema.sql")),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.DatabaseURL = dsn
	cfg.RedisURL = ""
	cfg.TelegramToken = ""

	pool, err := db.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return cfg, pool
}

func TestPostgres_publishSettleNotify(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, pool := startPostgres(t)

	// Six slots have already finished.
	sched, err := schedule.NewPGStore(pool.Pool).Update(ctx, schedule.Config{
		ReferenceEpochMillis: time.Now().Add(-65 * time.Minute).UnixMilli(),
		IntervalMinutes:      10,
		TimezoneLabel:        "UTC",
	}, 0)
	require.NoError(t, err)

	leagues := []league.League{{
		Code: "en", Name: "Premier",
		Teams: []string{"Arsenal", "Chelsea", "Liverpool", "Everton"},
	}}
	comps, err := NewPostgres(cfg, pool, leagues, logger)
	require.NoError(t, err)
	defer comps.Close()
	require.NoError(t, comps.BuildMatches(ctx, logger))

	m, err := comps.Matches.Load().MatchAt(2, sched)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `INSERT INTO users (id, balance, timezone) VALUES ('u1', 100, 'UTC')`)
	require.NoError(t, err)
	// Complementary picks: exactly one wins.
	_, err = pool.Exec(ctx, `
		INSERT INTO wagers (id, user_id, match_id, bet_type, selection, stake, odds) VALUES
			('w1', 'u1', $1, 'double_chance', '1X', 10, 1.5),
			('w2', 'u1', $1, '1x2', '2', 10, 3)`, m.MatchID)
	require.NoError(t, err)

	res, err := comps.Publisher.PublishUntil(ctx, time.Now(), sched)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Published)

	rec, ok, err := comps.Outcomes.Get(ctx, m.MatchID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.IsFinal)

	pass := comps.Reconciler(cfg, logger).RunPass(ctx)
	assert.Equal(t, 2, pass.Settled, pass.Errors)
	assert.Equal(t, 1, pass.Won)
	assert.Equal(t, 1, pass.Lost)

	var balance string
	require.NoError(t, pool.QueryRow(ctx, "SELECT balance::text FROM users WHERE id = 'u1'").Scan(&balance))
	want := decimal.NewFromInt(100).Add(decimal.NewFromInt(15))
	if rec.AwayGoals > rec.HomeGoals {
		want = decimal.NewFromInt(130)
	}
	assert.True(t, decimal.RequireFromString(balance).Equal(want), "balance %s", balance)

	// Settled wagers are never picked up again.
	again := comps.Reconciler(cfg, logger).RunPass(ctx)
	assert.Zero(t, again.Fetched)

	var events, queued int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM settlement_events").Scan(&events))
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications").Scan(&queued))
	assert.Equal(t, 2, events)
	assert.Equal(t, 2, queued)

	var status string
	require.NoError(t, pool.QueryRow(ctx, "wager_status", "w1").Scan(&status))
	assert.NotEqual(t, string(settlement.StatusPending), status)
}
