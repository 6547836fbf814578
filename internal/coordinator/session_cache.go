package coordinator

import (
	"time"

	"heizbox/internal/models"
)

// sessionCache is a single-slot TTL cache for the aggregated session view.
type sessionCache struct {
	ttl        time.Duration
	data       models.SessionData
	capturedAt time.Time
	valid      bool
}

func newSessionCache(ttl time.Duration) *sessionCache {
	return &sessionCache{ttl: ttl}
}

func (c *sessionCache) get(now time.Time) (models.SessionData, bool) {
	if !c.valid || now.Sub(c.capturedAt) >= c.ttl {
		return models.SessionData{}, false
	}
	return c.data, true
}

func (c *sessionCache) set(data models.SessionData, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.data, c.capturedAt, c.valid = data, now, true
}

func (c *sessionCache) invalidate() {
	c.data, c.capturedAt, c.valid = models.SessionData{}, time.Time{}, false
}
