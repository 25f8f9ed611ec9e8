// Package schedule maps wall-clock time onto the integer schedule index every
// client agrees on, and holds the versioned configuration record that defines
// that mapping.
//
// IndexForTime and TimeForIndex are pure: two processes holding the same
// Config always agree on the index for a timestamp.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfigMissing means no schedule configuration has been stored yet.
	// Fatal at startup; never retried.
	ErrConfigMissing = errors.New("schedule config missing")

	// ErrInvalidConfig means the stored record cannot produce indices.
	ErrInvalidConfig = errors.New("schedule config invalid")

	// ErrVersionConflict is returned by Store.Update when another writer
	// changed the record since it was read.
	ErrVersionConflict = errors.New("schedule config version conflict")
)

// Config is the process-wide schedule record. It is passed explicitly to
// every caller that needs "now -> index".
type Config struct {
	ReferenceEpochMillis int64
	IntervalMinutes      int32
	TimezoneLabel        string
	Version              int64
	UpdatedAt            time.Time
}

// Validate reports ErrInvalidConfig for a non-positive interval or an unknown
// timezone label. An empty label means UTC.
func (c Config) Validate() error {
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidConfig, c.IntervalMinutes)
	}
	if c.ReferenceEpochMillis < 0 {
		return fmt.Errorf("%w: negative reference epoch %d", ErrInvalidConfig, c.ReferenceEpochMillis)
	}
	if _, err := time.LoadLocation(c.TimezoneLabel); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.TimezoneLabel, err)
	}
	return nil
}

// IntervalMillis is the length of one schedule slot in milliseconds.
func (c Config) IntervalMillis() int64 {
	return int64(c.IntervalMinutes) * 60_000
}

// Interval is the length of one schedule slot.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ReferenceEpoch returns the reference timestamp as a time.Time in UTC.
func (c Config) ReferenceEpoch() time.Time {
	return time.UnixMilli(c.ReferenceEpochMillis).UTC()
}

// Location returns the display timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimezoneLabel)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IndexForMillis computes floor((ms - ref) / interval), clamped to 0 before the
// reference epoch.
func IndexForMillis(ms int64, cfg Config) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if ms < cfg.ReferenceEpochMillis {
		return 0, nil
	}
	// Both operands are non-negative here, so integer division is floor.
	return (ms - cfg.ReferenceEpochMillis) / cfg.IntervalMillis(), nil
}

// IndexForTime is IndexForMillis for a time.Time.
func IndexForTime(t time.Time, cfg Config) (int64, error) {
	return IndexForMillis(t.UnixMilli(), cfg)
}

// MillisForIndex returns ref + i*interval.
func MillisForIndex(i int64, cfg Config) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("negative schedule index %d", i)
	}
	return cfg.ReferenceEpochMillis + i*cfg.IntervalMillis(), nil
}

// TimeForIndex returns the start time of slot i, in the config's timezone.
func TimeForIndex(i int64, cfg Config) (time.Time, error) {
	ms, err := MillisForIndex(i, cfg)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).In(cfg.Location()), nil
}

// LastCompleted returns the highest index whose slot has fully elapsed at t,
// and false when no slot has finished yet.
func LastCompleted(t time.Time, cfg Config) (int64, bool, error) {
	idx, err := IndexForTime(t, cfg)
	if err != nil {
		return 0, false, err
	}
	if idx == 0 {
		return 0, false, nil
	}
	return idx - 1, true, nil
}
