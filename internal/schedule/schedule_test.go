package schedule

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexForMillis_halfPastInterval(t *testing.T) {
	cfg := Config{ReferenceEpochMillis: 0, IntervalMinutes: 30}

	idx, err := IndexForMillis(45*60_000, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx)
}

func TestIndexForMillis_clampsBeforeEpoch(t *testing.T) {
	cfg := Config{ReferenceEpochMillis: 1_000_000, IntervalMinutes: 5}

	idx, err := IndexForMillis(10, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx)
}

func TestIndexForMillis_monotonic(t *testing.T) {
	cfg := Config{ReferenceEpochMillis: 1_700_000_000_000, IntervalMinutes: 7}
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 5000; i++ {
		t1 := cfg.ReferenceEpochMillis - 3_600_000 + r.Int64N(400*24*3_600_000)
		t2 := t1 + r.Int64N(3*3_600_000)

		a, err := IndexForMillis(t1, cfg)
		require.NoError(t, err)
		b, err := IndexForMillis(t2, cfg)
		require.NoError(t, err)
		if a > b {
			t.Fatalf("index went backwards: t1=%d idx=%d, t2=%d idx=%d", t1, a, t2, b)
		}
	}
}

func TestTimeForIndex_roundTrip(t *testing.T) {
	cfg := Config{ReferenceEpochMillis: 1_700_000_000_000, IntervalMinutes: 15, TimezoneLabel: "Europe/London"}

	for _, i := range []int64{0, 1, 96, 12345} {
		start, err := TimeForIndex(i, cfg)
		require.NoError(t, err)

		back, err := IndexForTime(start, cfg)
		require.NoError(t, err)
		assert.Equal(t, i, back, "start of slot %d", i)

		last, err := IndexForTime(start.Add(cfg.Interval()-time.Millisecond), cfg)
		require.NoError(t, err)
		assert.Equal(t, i, last, "end of slot %d", i)
		assert.Equal(t, "Europe/London", start.Location().String())
	}
}

func TestValidate(t *testing.T) {
	_, err := IndexForMillis(0, Config{IntervalMinutes: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = TimeForIndex(1, Config{IntervalMinutes: 10, TimezoneLabel: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = TimeForIndex(-1, Config{IntervalMinutes: 10})
	assert.Error(t, err)
}

func TestLastCompleted(t *testing.T) {
	cfg := Config{ReferenceEpochMillis: 0, IntervalMinutes: 30}

	_, ok, err := LastCompleted(time.UnixMilli(10*60_000), cfg)
	require.NoError(t, err)
	assert.False(t, ok)

	idx, ok, err := LastCompleted(time.UnixMilli(95*60_000), cfg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), idx)
}

func TestMemoryStore_optimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	_, err := Load(ctx, s)
	assert.True(t, errors.Is(err, ErrConfigMissing))

	created, err := s.Update(ctx, Config{IntervalMinutes: 30}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = s.Update(ctx, Config{IntervalMinutes: 10}, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	updated, err := s.Update(ctx, Config{IntervalMinutes: 10}, created.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := Load(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int32(10), got.IntervalMinutes)
}
