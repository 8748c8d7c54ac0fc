package face

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(capacity int) (*StagingCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := NewStagingCache(5*time.Minute, capacity)
	c.now = clock.now
	return c, clock
}

func TestStagingCacheTakeIsSingleUse(t *testing.T) {
	c, _ := newTestCache(8)

	token, err := c.Put("payload")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "tmp_"))

	got, ok := c.Take(token)
	require.True(t, ok)
	require.Equal(t, "payload", got)

	_, ok = c.Take(token)
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestStagingCacheExpiry(t *testing.T) {
	c, clock := newTestCache(8)

	token, err := c.Put("payload")
	require.NoError(t, err)

	t.Run("alive at ttl", func(t *testing.T) {
		clock.advance(5 * time.Minute)
		require.Zero(t, c.Sweep())
		require.Equal(t, 1, c.Len())
	})

	t.Run("gone after ttl", func(t *testing.T) {
		clock.advance(time.Second)
		_, ok := c.Take(token)
		require.False(t, ok)
		require.Zero(t, c.Len())
	})
}

func TestStagingCacheSweepsOnPut(t *testing.T) {
	c, clock := newTestCache(8)

	_, err := c.Put("old")
	require.NoError(t, err)
	clock.advance(6 * time.Minute)

	_, err = c.Put("new")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
}

func TestStagingCacheCapacityEvictsOldest(t *testing.T) {
	c, clock := newTestCache(2)

	first, err := c.Put("first")
	require.NoError(t, err)
	clock.advance(time.Second)
	second, err := c.Put("second")
	require.NoError(t, err)
	clock.advance(time.Second)
	third, err := c.Put("third")
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())
	_, ok := c.Take(first)
	require.False(t, ok)

	got, ok := c.Take(second)
	require.True(t, ok)
	require.Equal(t, "second", got)
	got, ok = c.Take(third)
	require.True(t, ok)
	require.Equal(t, "third", got)
}

func TestStagingTokensAreUnique(t *testing.T) {
	c, _ := newTestCache(64)
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		token, err := c.Put("p")
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token %s", token)
		seen[token] = true
	}
}

func TestStagingTokensInTheSameMillisecondAreIndependent(t *testing.T) {
	c, _ := newTestCache(64)

	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		token, err := c.Put("p")
		require.NoError(t, err)

		id, err := ulid.Parse(strings.TrimPrefix(token, "tmp_"))
		require.NoError(t, err)
		// Sequential ids from one millisecond would share their leading
		// entropy bytes.
		high := string(id.Entropy()[:4])
		require.False(t, seen[high], "token %s shares entropy prefix with an earlier token", token)
		seen[high] = true
	}
}
