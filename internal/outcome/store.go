package outcome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres channel a published final outcome is
// announced on; internal/listener consumes it.
const NotifyChannel = "outcome_published"

// Record is a stored outcome together with where it sits on the schedule.
type Record struct {
	Outcome
	LeagueCode    string    `json:"league_code"`
	ScheduleIndex int64     `json:"schedule_index"`
	PublishedAt   time.Time `json:"published_at"`
}

// Store persists outcome records keyed by match id.
type Store interface {
	// Upsert writes rec after validating it. A final record is never
	// modified; re-writing identical values is a no-op.
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, matchID string) (Record, bool, error)
	// LastIndex is the highest schedule index with a stored record.
	LastIndex(ctx context.Context) (int64, bool, error)
}

func sameScore(a, b Outcome) bool {
	return a.HomeGoals == b.HomeGoals && a.AwayGoals == b.AwayGoals && a.IsFinal == b.IsFinal
}

// --------------------------------------------------------------------------
// In-memory store
// --------------------------------------------------------------------------

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	last    int64
	hasLast bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	if err := Validate(rec.Outcome); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[rec.MatchID]; ok && prev.IsFinal {
		if sameScore(prev.Outcome, rec.Outcome) {
			return nil
		}
		return fmt.Errorf("%w: %s is %s, refusing %s", ErrOutcomeImmutable, rec.MatchID, prev.Outcome, rec.Outcome)
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = time.Now().UTC()
	}
	s.records[rec.MatchID] = rec
	if !s.hasLast || rec.ScheduleIndex > s.last {
		s.last, s.hasLast = rec.ScheduleIndex, true
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, matchID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[matchID]
	return rec, ok, nil
}

func (s *MemoryStore) LastIndex(_ context.Context) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast, nil
}

// Lookup returns the record in its canonical field shape, as the settlement
// fetch would see it, or nil when nothing is stored.
func (s *MemoryStore) Lookup(matchID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[matchID]
	if !ok {
		return nil
	}
	return map[string]any{
		"match_id":   rec.MatchID,
		"home_goals": rec.HomeGoals,
		"away_goals": rec.AwayGoals,
		"is_final":   rec.IsFinal,
	}
}

// --------------------------------------------------------------------------
// Postgres store
// --------------------------------------------------------------------------

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Upsert writes the record and, for final outcomes, notifies NotifyChannel in
// the same transaction so listeners only hear about committed rows.
func (s *PGStore) Upsert(ctx context.Context, rec Record) error {
	if err := Validate(rec.Outcome); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var written string
		err := tx.QueryRow(ctx, `
			INSERT INTO match_outcomes (
				match_id, league_code, schedule_index, home_goals, away_goals, is_final, published_at
			) VALUES ($1,$2,$3,$4,$5,$6,NOW())
			ON CONFLICT (match_id) DO UPDATE SET
				home_goals = EXCLUDED.home_goals,
				away_goals = EXCLUDED.away_goals,
				is_final = EXCLUDED.is_final,
				published_at = NOW()
			WHERE match_outcomes.is_final = false
			RETURNING match_id`,
			rec.MatchID, rec.LeagueCode, rec.ScheduleIndex, rec.HomeGoals, rec.AwayGoals, rec.IsFinal,
		).Scan(&written)

		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict with a final row: only identical values are acceptable.
			var prev Outcome
			if err := tx.QueryRow(ctx, "outcome_by_match",
				rec.MatchID).Scan(&prev.MatchID, &prev.HomeGoals, &prev.AwayGoals, &prev.IsFinal, new(string), new(int64), new(time.Time)); err != nil {
				return fmt.Errorf("reload outcome %s: %w", rec.MatchID, err)
			}
			if !sameScore(prev, rec.Outcome) {
				return fmt.Errorf("%w: %s is %s, refusing %s", ErrOutcomeImmutable, rec.MatchID, prev, rec.Outcome)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("upsert outcome %s: %w", rec.MatchID, err)
		}

		if rec.IsFinal {
			if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, rec.MatchID); err != nil {
				return fmt.Errorf("notify outcome %s: %w", rec.MatchID, err)
			}
		}
		return nil
	})
}

func (s *PGStore) Get(ctx context.Context, matchID string) (Record, bool, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, "outcome_by_match", matchID).Scan(
		&rec.MatchID, &rec.HomeGoals, &rec.AwayGoals, &rec.IsFinal,
		&rec.LeagueCode, &rec.ScheduleIndex, &rec.PublishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get outcome %s: %w", matchID, err)
	}
	return rec, true, nil
}

func (s *PGStore) LastIndex(ctx context.Context) (int64, bool, error) {
	var last *int64
	if err := s.pool.QueryRow(ctx, "outcome_last_index").Scan(&last); err != nil {
		return 0, false, fmt.Errorf("last outcome index: %w", err)
	}
	if last == nil {
		return 0, false, nil
	}
	return *last, true, nil
}
