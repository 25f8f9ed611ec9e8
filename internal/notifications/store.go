package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists the notification outbox.
type Store interface {
	UserTimezone(ctx context.Context, userID string) (string, error)
	Insert(ctx context.Context, p Pending) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]claimedRow, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// --------------------------------------------------------------------------
// Postgres
// --------------------------------------------------------------------------

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) UserTimezone(ctx context.Context, userID string) (string, error) {
	var tz string
	if err := s.pool.QueryRow(ctx, "user_timezone", userID).Scan(&tz); err != nil {
		return "", fmt.Errorf("get user timezone: %w", err)
	}
	return tz, nil
}

// Insert queues one notification. A wager is only ever notified once.
func (s *PGStore) Insert(ctx context.Context, p Pending) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			user_id, wager_id, match_id, settlement_status, message, status, scheduled_for
		) VALUES ($1,$2,$3,$4,$5,'scheduled',$6)
		ON CONFLICT (wager_id) DO NOTHING`,
		p.UserID, p.WagerID, p.MatchID, p.Status, p.Message, p.ScheduleFor,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ClaimDue atomically claims a batch of due notifications for sending.
// Uses FOR UPDATE SKIP LOCKED for safe concurrent dispatch.
func (s *PGStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]claimedRow, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE notifications
		SET status = 'sending', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'scheduled' AND scheduled_for <= $1
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, wager_id, message`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var claimed []claimedRow
	for rows.Next() {
		var r claimedRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.WagerID, &r.Message); err != nil {
			return nil, fmt.Errorf("scan claimed: %w", err)
		}
		claimed = append(claimed, r)
	}
	return claimed, rows.Err()
}

func (s *PGStore) MarkSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'sent', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
	return err
}

// Cleanup deletes sent and failed notifications last touched before olderThan.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE status IN ('sent', 'failed') AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Memory
// --------------------------------------------------------------------------

type memoryRow struct {
	claimedRow
	status    string
	lastError string
	due       time.Time
	updated   time.Time
}

// MemoryStore is an in-process outbox for tests and the simulate command.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*memoryRow
	byWager   map[string]int64
	timezones map[string]string
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:      make(map[int64]*memoryRow),
		byWager:   make(map[string]int64),
		timezones: make(map[string]string),
		now:       time.Now,
	}
}

func (s *MemoryStore) SetTimezone(userID, tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timezones[userID] = tz
}

func (s *MemoryStore) UserTimezone(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tz, ok := s.timezones[userID]
	if !ok {
		return "", fmt.Errorf("get user timezone: unknown user %q", userID)
	}
	return tz, nil
}

func (s *MemoryStore) Insert(_ context.Context, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byWager[p.WagerID]; ok {
		return nil
	}
	s.nextID++
	s.rows[s.nextID] = &memoryRow{
		claimedRow: claimedRow{ID: s.nextID, UserID: p.UserID, WagerID: p.WagerID, Message: p.Message},
		status:     "scheduled",
		due:        p.ScheduleFor,
		updated:    s.now(),
	}
	s.byWager[p.WagerID] = s.nextID
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]claimedRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*memoryRow
	for _, r := range s.rows {
		if r.status == "scheduled" && !r.due.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].ID < due[j].ID
		}
		return due[i].due.Before(due[j].due)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]claimedRow, 0, len(due))
	for _, r := range due {
		r.status = "sending"
		r.updated = s.now()
		claimed = append(claimed, r.claimedRow)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id int64) error {
	return s.mark(id, "sent", "")
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, reason string) error {
	return s.mark(id, "failed", reason)
}

func (s *MemoryStore) mark(id int64, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("mark notification %d: not found", id)
	}
	r.status = status
	r.lastError = reason
	r.updated = s.now()
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if (r.status == "sent" || r.status == "failed") && r.updated.Before(olderThan) {
			delete(s.rows, id)
			delete(s.byWager, r.WagerID)
			n++
		}
	}
	return n, nil
}

// Status reports the outbox status of a wager's notification, or "" if none.
func (s *MemoryStore) Status(wagerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWager[wagerID]
	if !ok {
		return ""
	}
	return s.rows[id].status
}
