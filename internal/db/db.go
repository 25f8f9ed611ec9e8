// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/scoracle-sim/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers the hot read paths. Prepared
// statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Schedule
		"schedule_config_get": "SELECT reference_epoch_ms, interval_minutes, timezone_label, version, updated_at FROM schedule_config WHERE id = 1",

		// Fixtures
		"fixture_cycle_get":        "SELECT league_code, cycle_number, weeks, attempts, published_at FROM fixture_cycles WHERE league_code = $1 AND cycle_number = $2",
		"fixture_cycle_latest":     "SELECT league_code, cycle_number, weeks, attempts, published_at FROM fixture_cycles WHERE league_code = $1 ORDER BY cycle_number DESC LIMIT 1",
		"fixture_hashes_by_league": "SELECT week_hash, cycle_number FROM fixture_hashes WHERE league_code = $1",

		// Outcomes
		"outcome_by_match":   "SELECT match_id, home_goals, away_goals, is_final, league_code, schedule_index, published_at FROM match_outcomes WHERE match_id = $1",
		"outcome_last_index": "SELECT MAX(schedule_index) FROM match_outcomes",

		// Settlement: pending wagers joined to their canonical outcome row,
		// falling back to a payload stored with the wager.
		"wagers_pending": `SELECT w.id, w.user_id, w.match_id, w.bet_type, w.selection, w.stake::text, w.odds::text,
			COALESCE(
				CASE WHEN o.match_id IS NOT NULL THEN jsonb_build_object(
					'home_goals', o.home_goals, 'away_goals', o.away_goals, 'is_final', o.is_final)
				END,
				w.result_payload)
			FROM wagers w
			LEFT JOIN match_outcomes o ON o.match_id = w.match_id
			WHERE w.status = 'pending'
			  AND (o.match_id IS NOT NULL OR w.result_payload IS NOT NULL)
			ORDER BY w.created_at, w.id
			LIMIT $1`,
		"wager_status": "SELECT status FROM wagers WHERE id = $1",

		// Notifications
		"user_timezone": "SELECT timezone FROM users WHERE id = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
