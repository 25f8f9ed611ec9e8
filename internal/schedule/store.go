package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and updates the singleton schedule record with optimistic
// concurrency: Update succeeds only if the stored version still equals
// expectedVersion. Version 0 means "create".
type Store interface {
	Get(ctx context.Context) (Config, error)
	Update(ctx context.Context, cfg Config, expectedVersion int64) (Config, error)
}

// Load fetches and validates the record. Both failure modes are fatal for
// callers that need an index.
func Load(ctx context.Context, s Store) (Config, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// --------------------------------------------------------------------------
// In-memory store
// --------------------------------------------------------------------------

// MemoryStore is a process-local Store, used by tests and the simulate command.
type MemoryStore struct {
	mu  sync.Mutex
	cfg *Config
	now func() time.Time
}

// NewMemoryStore returns an empty store; pass a config to pre-seed it.
func NewMemoryStore(initial *Config) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	if initial != nil {
		c := *initial
		if c.Version == 0 {
			c.Version = 1
		}
		s.cfg = &c
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return Config{}, ErrConfigMissing
	}
	return *s.cfg, nil
}

func (s *MemoryStore) Update(_ context.Context, cfg Config, expectedVersion int64) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if s.cfg != nil {
		current = s.cfg.Version
	}
	if current != expectedVersion {
		return Config{}, fmt.Errorf("%w: expected %d, found %d", ErrVersionConflict, expectedVersion, current)
	}
	cfg.Version = current + 1
	cfg.UpdatedAt = s.now().UTC()
	s.cfg = &cfg
	return cfg, nil
}

// --------------------------------------------------------------------------
// Postgres store
// --------------------------------------------------------------------------

// PGStore keeps the record in the single-row schedule_config table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context) (Config, error) {
	var c Config
	err := s.pool.QueryRow(ctx, "schedule_config_get").Scan(
		&c.ReferenceEpochMillis, &c.IntervalMinutes, &c.TimezoneLabel, &c.Version, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrConfigMissing
	}
	if err != nil {
		return Config{}, fmt.Errorf("get schedule config: %w", err)
	}
	return c, nil
}

func (s *PGStore) Update(ctx context.Context, cfg Config, expectedVersion int64) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	var row pgx.Row
	if expectedVersion == 0 {
		row = s.pool.QueryRow(ctx, `
			INSERT INTO schedule_config (id, reference_epoch_ms, interval_minutes, timezone_label, version, updated_at)
			VALUES (1, $1, $2, $3, 1, NOW())
			ON CONFLICT (id) DO NOTHING
			RETURNING version, updated_at`,
			cfg.ReferenceEpochMillis, cfg.IntervalMinutes, cfg.TimezoneLabel)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE schedule_config
			SET reference_epoch_ms = $1,
				interval_minutes = $2,
				timezone_label = $3,
				version = version + 1,
				updated_at = NOW()
			WHERE id = 1 AND version = $4
			RETURNING version, updated_at`,
			cfg.ReferenceEpochMillis, cfg.IntervalMinutes, cfg.TimezoneLabel, expectedVersion)
	}

	if err := row.Scan(&cfg.Version, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, fmt.Errorf("%w: expected version %d", ErrVersionConflict, expectedVersion)
		}
		return Config{}, fmt.Errorf("update schedule config: %w", err)
	}
	return cfg, nil
}
