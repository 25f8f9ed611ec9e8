package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newAt(t *testing.T, max int) (*Cache, *time.Time) {
	t.Helper()
	c := New(true, max)
	now := time.Unix(1_000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_expires(t *testing.T) {
	c, now := newAt(t, 0)

	etag := c.Set("k", []byte(`{"a":1}`), time.Minute)
	data, got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, etag, got)
	assert.JSONEq(t, `{"a":1}`, string(data))

	*now = now.Add(2 * time.Minute)
	_, _, ok = c.Get("k")
	assert.False(t, ok)

	c.evict()
	assert.Equal(t, 0, c.Stats()["total_keys"])
}

func TestCache_disabled(t *testing.T) {
	c := New(false, 0)
	etag := c.Set("k", []byte("x"), time.Hour)
	assert.Equal(t, ComputeETag([]byte("x")), etag)
	_, _, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_capDropsExpiredFirst(t *testing.T) {
	c, now := newAt(t, 2)
	c.Set("match:1", []byte("a"), time.Minute)
	c.Set("match:2", []byte("b"), time.Hour)
	*now = now.Add(2 * time.Minute)

	c.Set("match:3", []byte("c"), time.Hour)
	_, _, ok := c.Get("match:2")
	assert.True(t, ok)
	_, _, ok = c.Get("match:3")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats()["total_keys"])
	assert.Equal(t, 0, c.Stats()["evictions"])
}

func TestCache_capDropsSoonestExpiry(t *testing.T) {
	c, _ := newAt(t, 3)
	c.Set("outcome:a", []byte("a"), 24*time.Hour)
	c.Set("match:b", []byte("b"), time.Minute)
	c.Set("outcome:c", []byte("c"), 24*time.Hour)

	c.Set("match:d", []byte("d"), time.Hour)
	_, _, ok := c.Get("match:b")
	assert.False(t, ok)
	for _, k := range []string{"outcome:a", "outcome:c", "match:d"} {
		_, _, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 1, c.Stats()["evictions"])

	// Overwriting an existing key never evicts.
	c.Set("match:d", []byte("d2"), time.Hour)
	assert.Equal(t, 1, c.Stats()["evictions"])
}

func TestCache_neverExceedsCap(t *testing.T) {
	c, _ := newAt(t, 50)
	for i := 0; i < 500; i++ {
		c.Set(fmt.Sprintf("match:%d", i), []byte("x"), time.Duration(i+1)*time.Second)
	}
	assert.Equal(t, 50, c.Stats()["total_keys"])
	assert.Equal(t, 450, c.Stats()["evictions"])
}

func TestCheckETagMatch(t *testing.T) {
	etag := ComputeETag([]byte("x"))
	assert.True(t, CheckETagMatch(etag, etag))
	assert.True(t, CheckETagMatch("*", etag))
	assert.False(t, CheckETagMatch("", etag))
	assert.False(t, CheckETagMatch(`W/"other"`, etag))
}
