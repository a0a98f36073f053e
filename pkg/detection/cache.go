package detection

import (
	"sync"
	"time"

	"github.com/teslashibe/go-catlaser/internal/clock"
)

// Cache holds the latest detections and expires them after a TTL so a stalled
// producer never leaves stale subjects in place forever.
type Cache struct {
	ttl time.Duration
	clk clock.Clock

	mu      sync.RWMutex
	boxes   []BoundingBox
	updated time.Time
}

var _ Source = (*Cache)(nil)

// NewCache creates a cache. ttl <= 0 disables expiry; a nil clock uses the
// wall clock.
func NewCache(ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{ttl: ttl, clk: clk}
}

// Update replaces the snapshot. Invalid boxes are dropped; the number kept is
// returned.
func (c *Cache) Update(boxes []BoundingBox) int {
	valid := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Validate() == nil {
			valid = append(valid, b)
		}
	}

	c.mu.Lock()
	c.boxes = valid
	c.updated = c.clk.Now()
	c.mu.Unlock()
	return len(valid)
}

// Clear drops the snapshot.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.boxes = nil
	c.mu.Unlock()
}

// LatestDetections returns a copy of the snapshot, or nil once it expired.
func (c *Cache) LatestDetections() []BoundingBox {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.boxes) == 0 {
		return nil
	}
	if c.ttl > 0 && c.clk.Since(c.updated) > c.ttl {
		return nil
	}
	return append([]BoundingBox(nil), c.boxes...)
}

// Age returns the time since the last Update.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.updated.IsZero() {
		return 0
	}
	return c.clk.Since(c.updated)
}
