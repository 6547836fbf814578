package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"
)

const minRetireInterval = time.Second

// Registry maps device ids to their coordinator, creating them on first use.
// There is at most one live coordinator per device id.
type Registry struct {
	deps Dependencies
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	coords map[string]*entry
	closed bool
}

type entry struct {
	c *Coordinator
	// last time Get handed c out
	lastUsed time.Time
}

func NewRegistry(deps Dependencies, opts Options) *Registry {
	return &Registry{
		deps:   deps,
		opts:   opts,
		now:    opts.withDefaults().Now,
		coords: make(map[string]*entry),
	}
}

// Get returns the ready coordinator for deviceID. A coordinator whose
// initialization failed is discarded so the next Get retries.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Coordinator, error) {
	id, err := ValidateDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.coords[id]
	if !ok {
		e = &entry{c: New(id, r.deps, r.opts)}
		r.coords[id] = e
	}
	e.lastUsed = r.now()
	c := e.c
	r.mu.Unlock()

	if err := c.Ready(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		r.evict(id, c)
		c.Close()
		return nil, err
	}
	return c, nil
}

func (r *Registry) evict(id string, c *Coordinator) {
	r.mu.Lock()
	if e, ok := r.coords[id]; ok && e.c == c {
		delete(r.coords, id)
	}
	r.mu.Unlock()
}

// RestoreAlarms starts a coordinator for every device with a pending durable
// alarm so liveness checks resume after a restart. It returns how many started.
func (r *Registry) RestoreAlarms(ctx context.Context) (int, error) {
	ids, err := r.deps.Store.DevicesWithAlarms(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := r.Get(ctx, id); err != nil {
			if r.deps.Log != nil {
				r.deps.Log.Errorw("alarm_restore_failed", "device_id", id, "err", err)
			}
			continue
		}
		n++
	}
	return n, nil
}

// RetireIdle stops coordinators that Get has not handed out for idleAfter and
// that have no subscribers and no pending alarm. Their durable state stays in
// the store; the next Get starts a fresh coordinator from it. It returns how
// many were retired.
func (r *Registry) RetireIdle(ctx context.Context, idleAfter time.Duration) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	cutoff := r.now().Add(-idleAfter)
	var retired []*Coordinator
	for id, e := range r.coords {
		if e.lastUsed.After(cutoff) {
			continue
		}
		// checked under r.mu so no Get can hand the coordinator out meanwhile
		idle, err := e.c.idle(ctx)
		if err != nil || !idle {
			continue
		}
		delete(r.coords, id)
		retired = append(retired, e.c)
	}
	r.mu.Unlock()

	for _, c := range retired {
		c.Close()
		if r.deps.Log != nil {
			r.deps.Log.Debugw("coordinator_retired", "device_id", c.DeviceID())
		}
	}
	return len(retired)
}

// RunRetirement calls RetireIdle periodically until ctx is done.
// A non-positive idleAfter disables retirement.
func (r *Registry) RunRetirement(ctx context.Context, idleAfter time.Duration) {
	if idleAfter <= 0 {
		return
	}
	interval := idleAfter / 2
	if interval < minRetireInterval {
		interval = minRetireInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, internalOpTimeout)
			if n := r.RetireIdle(sweepCtx, idleAfter); n > 0 && r.deps.Log != nil {
				r.deps.Log.Infow("coordinators_retired", "count", n, "live", r.Len())
			}
			cancel()
		}
	}
}

// Len returns the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coords)
}

// Close stops every coordinator. Later Gets fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	coords := make([]*Coordinator, 0, len(r.coords))
	for _, e := range r.coords {
		coords = append(coords, e.c)
	}
	r.coords = map[string]*entry{}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}
