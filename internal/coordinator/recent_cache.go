package coordinator

type cycleKey struct {
	duration float64
	cycle    int
}

// recentCycleCache remembers the last max accepted (duration, cycle) pairs.
// Eviction is by insertion order; lookups do not refresh an entry.
type recentCycleCache struct {
	max   int
	order []cycleKey
	set   map[cycleKey]struct{}
}

func newRecentCycleCache(max int) *recentCycleCache {
	if max < 1 {
		max = 1
	}
	return &recentCycleCache{
		max:   max,
		order: make([]cycleKey, 0, max+1),
		set:   make(map[cycleKey]struct{}, max+1),
	}
}

func (c *recentCycleCache) contains(k cycleKey) bool {
	_, ok := c.set[k]
	return ok
}

func (c *recentCycleCache) add(k cycleKey) {
	if c.contains(k) {
		return
	}
	c.order = append(c.order, k)
	c.set[k] = struct{}{}
	if len(c.order) > c.max {
		oldest := c.order[0]
		copy(c.order, c.order[1:])
		c.order = c.order[:len(c.order)-1]
		delete(c.set, oldest)
	}
}

func (c *recentCycleCache) len() int { return len(c.order) }
