package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds published cycles. A published cycle never changes.
type Store interface {
	Get(ctx context.Context, leagueCode string, cycleNumber int) (Cycle, bool, error)
	Latest(ctx context.Context, leagueCode string) (Cycle, bool, error)
	// Publish stores c. If another writer already published the same
	// (league, cycle) the stored cycle is returned instead.
	Publish(ctx context.Context, c Cycle) (Cycle, error)
}

// Registry remembers every week hash a league has used, with the cycle that
// used it, so a regenerated cycle does not collide with its own hashes.
type Registry interface {
	SeenHashes(ctx context.Context, leagueCode string) (map[string]int, error)
	AddHashes(ctx context.Context, leagueCode string, cycleNumber int, hashes []string) error
}

// --------------------------------------------------------------------------
// In-memory store
// --------------------------------------------------------------------------

// MemoryStore implements both Store and Registry.
type MemoryStore struct {
	mu     sync.RWMutex
	cycles map[string]map[int]Cycle
	hashes map[string]map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cycles: make(map[string]map[int]Cycle),
		hashes: make(map[string]map[string]int),
	}
}

func (s *MemoryStore) Get(_ context.Context, leagueCode string, cycleNumber int) (Cycle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[leagueCode][cycleNumber]
	return c, ok, nil
}

func (s *MemoryStore) Latest(_ context.Context, leagueCode string) (Cycle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest Cycle
		found  bool
	)
	for n, c := range s.cycles[leagueCode] {
		if !found || n > latest.CycleNumber {
			latest, found = c, true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) Publish(_ context.Context, c Cycle) (Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNum, ok := s.cycles[c.LeagueCode]
	if !ok {
		byNum = make(map[int]Cycle)
		s.cycles[c.LeagueCode] = byNum
	}
	if existing, ok := byNum[c.CycleNumber]; ok {
		return existing, nil
	}
	if c.PublishedAt.IsZero() {
		c.PublishedAt = time.Now().UTC()
	}
	byNum[c.CycleNumber] = c
	return c, nil
}

// Cycles lists every published cycle of a league in cycle order.
func (s *MemoryStore) Cycles(leagueCode string) []Cycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cycle, 0, len(s.cycles[leagueCode]))
	for _, c := range s.cycles[leagueCode] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleNumber < out[j].CycleNumber })
	return out
}

func (s *MemoryStore) SeenHashes(_ context.Context, leagueCode string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.hashes[leagueCode]))
	for h, n := range s.hashes[leagueCode] {
		out[h] = n
	}
	return out, nil
}

func (s *MemoryStore) AddHashes(_ context.Context, leagueCode string, cycleNumber int, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.hashes[leagueCode]
	if !ok {
		m = make(map[string]int)
		s.hashes[leagueCode] = m
	}
	for _, h := range hashes {
		if _, exists := m[h]; !exists {
			m[h] = cycleNumber
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Postgres store
// --------------------------------------------------------------------------

// PGStore persists cycles in fixture_cycles and week hashes in
// fixture_hashes. Both tables carry the unique constraints that make
// concurrent generators converge on one cycle.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func scanCycle(row pgx.Row) (Cycle, error) {
	var (
		c     Cycle
		weeks []byte
	)
	if err := row.Scan(&c.LeagueCode, &c.CycleNumber, &weeks, &c.Attempts, &c.PublishedAt); err != nil {
		return Cycle{}, err
	}
	if err := json.Unmarshal(weeks, &c.Weeks); err != nil {
		return Cycle{}, fmt.Errorf("decode weeks: %w", err)
	}
	return c, nil
}

func (s *PGStore) Get(ctx context.Context, leagueCode string, cycleNumber int) (Cycle, bool, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx, "fixture_cycle_get", leagueCode, cycleNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, false, nil
	}
	if err != nil {
		return Cycle{}, false, fmt.Errorf("get cycle %s/%d: %w", leagueCode, cycleNumber, err)
	}
	return c, true, nil
}

func (s *PGStore) Latest(ctx context.Context, leagueCode string) (Cycle, bool, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx, "fixture_cycle_latest", leagueCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, false, nil
	}
	if err != nil {
		return Cycle{}, false, fmt.Errorf("latest cycle %s: %w", leagueCode, err)
	}
	return c, true, nil
}

func (s *PGStore) Publish(ctx context.Context, c Cycle) (Cycle, error) {
	weeks, err := json.Marshal(c.Weeks)
	if err != nil {
		return Cycle{}, fmt.Errorf("encode weeks: %w", err)
	}

	published, err := scanCycle(s.pool.QueryRow(ctx, `
		INSERT INTO fixture_cycles (league_code, cycle_number, weeks, attempts, published_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (league_code, cycle_number) DO NOTHING
		RETURNING league_code, cycle_number, weeks, attempts, published_at`,
		c.LeagueCode, c.CycleNumber, weeks, c.Attempts))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race: the other writer's cycle is the published one.
		existing, ok, err := s.Get(ctx, c.LeagueCode, c.CycleNumber)
		if err != nil {
			return Cycle{}, err
		}
		if !ok {
			return Cycle{}, fmt.Errorf("publish cycle %s/%d: conflicting row vanished", c.LeagueCode, c.CycleNumber)
		}
		return existing, nil
	}
	if err != nil {
		return Cycle{}, fmt.Errorf("publish cycle %s/%d: %w", c.LeagueCode, c.CycleNumber, err)
	}
	return published, nil
}

func (s *PGStore) SeenHashes(ctx context.Context, leagueCode string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, "fixture_hashes_by_league", leagueCode)
	if err != nil {
		return nil, fmt.Errorf("load week hashes %s: %w", leagueCode, err)
	}
	defer rows.Close()

	seen := make(map[string]int)
	for rows.Next() {
		var (
			h string
			n int
		)
		if err := rows.Scan(&h, &n); err != nil {
			return nil, fmt.Errorf("scan week hash: %w", err)
		}
		seen[h] = n
	}
	return seen, rows.Err()
}

func (s *PGStore) AddHashes(ctx context.Context, leagueCode string, cycleNumber int, hashes []string) error {
	batch := &pgx.Batch{}
	for _, h := range hashes {
		batch.Queue(`
			INSERT INTO fixture_hashes (league_code, week_hash, cycle_number)
			VALUES ($1, $2, $3)
			ON CONFLICT (league_code, week_hash) DO NOTHING`,
			leagueCode, h, cycleNumber)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("add week hashes %s/%d: %w", leagueCode, cycleNumber, err)
	}
	return nil
}
