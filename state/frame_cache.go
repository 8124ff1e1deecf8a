package state

import (
	"sync"
	"time"
)

// FrameCache holds the most recently encoded JPEG frame.
type FrameCache struct {
	mu      sync.RWMutex
	frame   []byte
	updated time.Time
}

// NewFrameCache creates an empty frame cache
func NewFrameCache() *FrameCache {
	return &FrameCache{}
}

// Set replaces the cached frame. The caller must not modify frame afterwards.
func (c *FrameCache) Set(frame []byte) {
	c.mu.Lock()
	c.frame = frame
	c.updated = time.Now()
	c.mu.Unlock()
}

// Get returns the cached frame and whether one has been stored yet.
func (c *FrameCache) Get() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.frame != nil
}

// Updated returns the time of the last Set, or the zero time.
func (c *FrameCache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
