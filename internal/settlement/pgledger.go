package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGLedger settles against the wagers, users and settlement_events tables.
type PGLedger struct {
	pool *pgxpool.Pool
}

func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// PendingWagers returns the oldest pending wagers with their outcome row, if
// any, as a canonical-shape record. A wager placed through an older client
// may carry its own result_payload, used when no outcome row exists.
func (l *PGLedger) PendingWagers(ctx context.Context, limit int) ([]PendingWager, error) {
	rows, err := l.pool.Query(ctx, "wagers_pending", limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending wagers: %w", err)
	}
	defer rows.Close()

	var out []PendingWager
	for rows.Next() {
		var (
			pw          PendingWager
			stake, odds string
		)
		if err := rows.Scan(
			&pw.ID, &pw.UserID, &pw.MatchID, &pw.BetType, &pw.Selection,
			&stake, &odds, &pw.Result,
		); err != nil {
			return nil, fmt.Errorf("scan pending wager: %w", err)
		}
		if pw.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, fmt.Errorf("wager %s stake: %w", pw.ID, err)
		}
		if pw.Odds, err = decimal.NewFromString(odds); err != nil {
			return nil, fmt.Errorf("wager %s odds: %w", pw.ID, err)
		}
		pw.Status = StatusPending
		out = append(out, pw)
	}
	return out, rows.Err()
}

// SettleAtomic runs the CAS, the audit insert and the credit in one
// transaction. Zero rows from the CAS means someone else got there first.
func (l *PGLedger) SettleAtomic(ctx context.Context, s Settlement) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE wagers SET status = $2, payout = $3::numeric, settled_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		s.WagerID, string(s.Status), s.Payout.String())
	if err != nil {
		return fmt.Errorf("mark wager %s: %w", s.WagerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRaceLost
	}

	inserted, err := insertEvent(ctx, tx, s)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrRaceLost
	}

	if s.Payout.IsPositive() {
		if err := credit(ctx, tx, s.UserID, s.Payout); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settlement %s: %w", s.WagerID, err)
	}
	return nil
}

func (l *PGLedger) WagerStatus(ctx context.Context, wagerID string) (Status, error) {
	var st string
	if err := l.pool.QueryRow(ctx, "wager_status", wagerID).Scan(&st); err != nil {
		return "", fmt.Errorf("wager %s status: %w", wagerID, err)
	}
	return Status(st), nil
}

func (l *PGLedger) ClaimSettlement(ctx context.Context, s Settlement) (bool, error) {
	return insertEvent(ctx, l.pool, s)
}

func (l *PGLedger) ReleaseClaim(ctx context.Context, s Settlement) error {
	_, err := l.pool.Exec(ctx,
		"DELETE FROM settlement_events WHERE wager_id = $1 AND id = $2", s.WagerID, s.EventID)
	if err != nil {
		return fmt.Errorf("release claim %s: %w", s.WagerID, err)
	}
	return nil
}

func (l *PGLedger) SettlementEvent(ctx context.Context, wagerID string) (Settlement, bool, error) {
	s := Settlement{WagerID: wagerID}
	var id, status, payout string
	err := l.pool.QueryRow(ctx, `
		SELECT id::text, status, payout::text, settled_at
		FROM settlement_events WHERE wager_id = $1`, wagerID,
	).Scan(&id, &status, &payout, &s.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, false, nil
	}
	if err != nil {
		return Settlement{}, false, fmt.Errorf("settlement event %s: %w", wagerID, err)
	}
	if s.EventID, err = uuid.Parse(id); err != nil {
		return Settlement{}, false, fmt.Errorf("settlement event %s id: %w", wagerID, err)
	}
	s.Status = Status(status)
	if s.Payout, err = decimal.NewFromString(payout); err != nil {
		return Settlement{}, false, fmt.Errorf("settlement event %s payout: %w", wagerID, err)
	}
	return s, true, nil
}

func (l *PGLedger) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	return credit(ctx, l.pool, userID, amount)
}

func (l *PGLedger) MarkSettled(ctx context.Context, s Settlement) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		UPDATE wagers SET status = $2, payout = $3::numeric, settled_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		s.WagerID, string(s.Status), s.Payout.String())
	if err != nil {
		return false, fmt.Errorf("mark wager %s: %w", s.WagerID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// querier is what pgxpool.Pool and pgx.Tx have in common here, so the
// fallback primitives and the atomic path share their SQL.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func credit(ctx context.Context, q querier, userID string, amount decimal.Decimal) error {
	tag, err := q.Exec(ctx,
		"UPDATE users SET balance = balance + $2::numeric, updated_at = NOW() WHERE id = $1",
		userID, amount.String())
	if err != nil {
		return fmt.Errorf("credit user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credit user %s: user not found", userID)
	}
	return nil
}

func insertEvent(ctx context.Context, q querier, s Settlement) (bool, error) {
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO settlement_events (
			id, wager_id, user_id, match_id, status, stake, payout,
			home_goals, away_goals, shape, reason, settled_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9,$10,$11,$12)
		ON CONFLICT (wager_id) DO NOTHING
		RETURNING id`,
		s.EventID, s.WagerID, s.UserID, s.MatchID, string(s.Status),
		s.Stake.String(), s.Payout.String(), s.HomeGoals, s.AwayGoals, s.Shape, s.Reason, s.SettledAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record settlement %s: %w", s.WagerID, err)
	}
	return true, nil
}
