package face

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/your-org/gatepass/internal/observability"
)

const stagingTokenPrefix = "tmp_"

type stagedCapture struct {
	payload   string
	createdAt time.Time
}

// StagingCache holds validated captures between the validate and register
// steps of a two-step enrollment. Entries expire after ttl and are swept
// lazily on every access; a token can be taken at most once.
type StagingCache struct {
	mu       sync.Mutex
	entries  map[string]stagedCapture
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

func NewStagingCache(ttl time.Duration, capacity int) *StagingCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &StagingCache{
		entries:  make(map[string]stagedCapture),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Put stores payload and returns its token. When the cache is full the
// oldest entry is evicted.
func (c *StagingCache) Put(payload string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	// Each token draws fresh entropy.
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate staging token: %w", err)
	}
	token := stagingTokenPrefix + id.String()

	c.entries[token] = stagedCapture{payload: payload, createdAt: now}
	observability.StagingEntries.Set(float64(len(c.entries)))
	return token, nil
}

// Take removes and returns the payload stored under token.
func (c *StagingCache) Take(token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(c.now())

	entry, ok := c.entries[token]
	if !ok {
		return "", false
	}
	delete(c.entries, token)
	observability.StagingEntries.Set(float64(len(c.entries)))
	return entry.payload, true
}

// Sweep drops expired entries and returns how many were removed.
func (c *StagingCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *StagingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *StagingCache) sweepLocked(now time.Time) int {
	removed := 0
	for token, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, token)
			removed++
		}
	}
	if removed > 0 {
		observability.StagingEntries.Set(float64(len(c.entries)))
	}
	return removed
}

func (c *StagingCache) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for token, e := range c.entries {
		if oldest == "" || e.createdAt.Before(at) {
			oldest, at = token, e.createdAt
		}
	}
	if oldest != "" {
		delete(c.entries, oldest)
	}
}
