// Package coordinator runs one actor per device. The actor owns the device's
// on/heating state, its live subscribers and its liveness alarm; every
// operation on a device is executed on that device's goroutine, one at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"heizbox/internal/logger"
	"heizbox/internal/metrics"
	"heizbox/internal/models"
	"heizbox/internal/repository"
	"heizbox/internal/service"
)

const (
	DefaultOfflineThreshold     = 90 * time.Second
	DefaultRecentCycleCacheSize = 10
	DefaultSessionCacheTTL      = 5 * time.Second
	defaultMailboxSize          = 64

	// bounds store calls made outside any request (init, alarm)
	internalOpTimeout = 10 * time.Second

	maxDeviceIDLen = 128
)

var (
	ErrClosed          = errors.New("coordinator closed")
	ErrInvalidDeviceID = errors.New("invalid device id")
)

// Role of a live connection.
type Role string

const (
	RoleDevice   Role = "device"
	RoleFrontend Role = "frontend"
)

// ParseRole maps the connection "type" query value to a Role. Empty means device.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleDevice:
		return RoleDevice, nil
	case RoleFrontend:
		return RoleFrontend, nil
	default:
		return "", fmt.Errorf("unknown connection type %q", s)
	}
}

// ValidateDeviceID trims id and rejects empty, over-long or path-like ids.
func ValidateDeviceID(id string) (string, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	case len(id) > maxDeviceIDLen:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidDeviceID, maxDeviceIDLen)
	case strings.ContainsAny(id, "/#+"):
		return "", fmt.Errorf("%w: must not contain '/', '#' or '+'", ErrInvalidDeviceID)
	}
	return id, nil
}

// Subscriber is a live connection attached to a coordinator.
// Send must not block and must not call back into the coordinator.
type Subscriber interface {
	Role() Role
	Send(msg []byte) error
	Close()
}

// EventSink receives a copy of every broadcast event.
type EventSink interface {
	Publish(deviceID, eventType string, payload []byte) error
}

// Dependencies are shared by all coordinators of a Registry.
type Dependencies struct {
	Store      repository.StateStore
	HeatCycles service.HeatCycles
	Sessions   service.Sessions
	Sink       EventSink
	Metrics    *metrics.Metrics
	Log        *logger.Logger
}

// Options tunes a coordinator. Zero values fall back to the defaults.
type Options struct {
	OfflineThreshold     time.Duration
	RecentCycleCacheSize int
	// SessionCacheTTL below zero disables the session cache.
	SessionCacheTTL      time.Duration
	MailboxSize          int
	Now                  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.OfflineThreshold <= 0 {
		o.OfflineThreshold = DefaultOfflineThreshold
	}
	if o.RecentCycleCacheSize <= 0 {
		o.RecentCycleCacheSize = DefaultRecentCycleCacheSize
	}
	switch {
	case o.SessionCacheTTL == 0:
		o.SessionCacheTTL = DefaultSessionCacheTTL
	case o.SessionCacheTTL < 0:
		o.SessionCacheTTL = 0
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = defaultMailboxSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Ack answers a heatCycleCompleted submission.
type Ack struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func ackOK() Ack { return Ack{Type: TypeAck, Event: TypeHeatCycleCompleted, Success: true} }

func ackFail(reason string) Ack {
	return Ack{Type: TypeAck, Event: TypeHeatCycleCompleted, Reason: reason}
}

type statusEvent struct {
	Type      string `json:"type"`
	IsOn      bool   `json:"isOn"`
	IsHeating bool   `json:"isHeating"`
}

type sessionDataEvent struct {
	Type string `json:"type"`
	models.SessionData
}

type heartbeatEvent struct {
	Type string `json:"type"`
}

// Coordinator is the actor for one device.
type Coordinator struct {
	id       string
	opts     Options
	store    repository.DeviceStorage
	cycles   service.HeatCycles
	sessions service.Sessions
	sink     EventSink
	metrics  *metrics.Metrics
	log      *logger.Logger

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	ready     chan struct{}
	initErr   error
	closeOnce sync.Once

	// owned by the run goroutine
	state    models.DeviceState
	subs     map[Subscriber]struct{}
	recent   *recentCycleCache
	session  *sessionCache
	alarmAt  time.Time
	timer    *time.Timer
	timerGen uint64
}

// New starts the coordinator goroutine for deviceID. Initialization runs
// before any operation is served; use Ready to wait for it.
func New(deviceID string, deps Dependencies, opts Options) *Coordinator {
	opts = opts.withDefaults()
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		id:       deviceID,
		opts:     opts,
		store:    deps.Store.ForDevice(deviceID),
		cycles:   deps.HeatCycles,
		sessions: deps.Sessions,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		log:      log.With("device_id", deviceID),
		mailbox:  make(chan func(), opts.MailboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		subs:     make(map[Subscriber]struct{}),
		recent:   newRecentCycleCache(opts.RecentCycleCacheSize),
		session:  newSessionCache(opts.SessionCacheTTL),
	}
	go c.run()
	return c
}

func (c *Coordinator) DeviceID() string { return c.id }

// Done is closed once the coordinator goroutine has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Ready waits for initialization and returns its error.
func (c *Coordinator) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the goroutine, the alarm timer and all subscribers. The durable
// alarm slot is kept so a later coordinator for the same device resumes it.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Coordinator) run() {
	defer close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), internalOpTimeout)
	c.initErr = c.init(ctx)
	cancel()
	close(c.ready)
	if c.initErr != nil {
		c.log.Errorw("coordinator_init_failed", "err", c.initErr)
		return
	}
	c.metrics.CoordinatorStarted()
	defer c.shutdown()

	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.mailbox:
			fn()
		}
	}
}

func (c *Coordinator) init(ctx context.Context) error {
	var st models.DeviceState
	if _, err := c.store.Get(ctx, repository.KeyIsOn, &st.IsOn); err != nil {
		return fmt.Errorf("load %s: %w", repository.KeyIsOn, err)
	}
	if _, err := c.store.Get(ctx, repository.KeyIsHeating, &st.IsHeating); err != nil {
		return fmt.Errorf("load %s: %w", repository.KeyIsHeating, err)
	}
	if _, err := c.store.Get(ctx, repository.KeyLastSeen, &st.LastSeenAtMs); err != nil {
		return fmt.Errorf("load %s: %w", repository.KeyLastSeen, err)
	}
	c.state = st

	at, ok, err := c.store.GetAlarm(ctx)
	if err != nil {
		return fmt.Errorf("load alarm: %w", err)
	}
	if ok {
		c.alarmAt = at
		c.armTimer(at)
	} else if err := c.scheduleAlarm(ctx, c.opts.Now().Add(c.opts.OfflineThreshold)); err != nil {
		return err
	}

	if st.IsOn {
		c.metrics.DeviceOnline(true)
	}
	c.log.Debugw("coordinator_ready", "is_on", st.IsOn, "is_heating", st.IsHeating, "last_seen", st.LastSeenAtMs)
	return nil
}

func (c *Coordinator) shutdown() {
	c.stopTimer()
	for sub := range c.subs {
		delete(c.subs, sub)
		c.metrics.SubscriberRemoved(string(sub.Role()))
		sub.Close()
	}
	if c.state.IsOn {
		c.metrics.DeviceOnline(false)
	}
	c.metrics.CoordinatorStopped()
}

// do runs fn on the coordinator goroutine and waits for it. Once fn is
// queued it runs to completion even if ctx is cancelled meanwhile.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	if err := c.Ready(ctx); err != nil {
		return err
	}
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.mailbox <- task:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		// run exited before picking the task up
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Status returns the current on/heating snapshot.
func (c *Coordinator) Status(ctx context.Context) (models.DeviceStatus, error) {
	var st models.DeviceStatus
	err := c.do(ctx, func() { st = c.state.Status() })
	return st, err
}

// State returns the full state including last seen.
func (c *Coordinator) State(ctx context.Context) (models.DeviceState, error) {
	var st models.DeviceState
	err := c.do(ctx, func() { st = c.state })
	return st, err
}

// UpdateStatus applies patch from the control surface. It is not a liveness
// signal, but it re-arms the alarm when the device ends up on.
func (c *Coordinator) UpdateStatus(ctx context.Context, patch StatusPatch) (models.DeviceStatus, error) {
	var (
		st    models.DeviceStatus
		opErr error
	)
	err := c.do(ctx, func() {
		_, opErr = c.applyPatch(ctx, patch)
		if opErr == nil && c.state.IsOn {
			opErr = c.ensureAlarm(ctx)
		}
		st = c.state.Status()
	})
	if err != nil {
		return st, err
	}
	return st, opErr
}

// Heartbeat records a liveness signal received outside a live connection.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	var opErr error
	if err := c.do(ctx, func() { opErr = c.touch(ctx, true) }); err != nil {
		return err
	}
	return opErr
}

// Publish broadcasts a JSON object verbatim.
func (c *Coordinator) Publish(ctx context.Context, raw []byte) error {
	typ, err := EventType(raw)
	if err != nil {
		return err
	}
	msg := compact(raw)
	return c.do(ctx, func() { c.fanout(typ, msg) })
}

// SessionData returns the aggregated session view, served from the cache while fresh.
func (c *Coordinator) SessionData(ctx context.Context) (models.SessionData, error) {
	var (
		data  models.SessionData
		opErr error
	)
	if err := c.do(ctx, func() { data, opErr = c.sessionData(ctx) }); err != nil {
		return data, err
	}
	return data, opErr
}

// SessionCounters is SessionData without the grouped history.
func (c *Coordinator) SessionCounters(ctx context.Context) (models.SessionCounters, error) {
	data, err := c.SessionData(ctx)
	return data.Counters(), err
}

// CompleteHeatCycle runs the dedup and persist path for a submission that did
// not arrive over a live connection. Only closure or ctx errors are returned;
// outcomes are reported in the Ack.
func (c *Coordinator) CompleteHeatCycle(ctx context.Context, duration float64, cycle int) (Ack, error) {
	var ack Ack
	err := c.do(ctx, func() { ack = c.completeHeatCycle(ctx, duration, cycle) })
	return ack, err
}

// Attach registers sub and sends it the connect snapshot.
func (c *Coordinator) Attach(ctx context.Context, sub Subscriber) error {
	var opErr error
	if err := c.do(ctx, func() { opErr = c.attach(ctx, sub) }); err != nil {
		return err
	}
	return opErr
}

// Detach forgets sub. Safe to call for a subscriber that was already dropped.
func (c *Coordinator) Detach(ctx context.Context, sub Subscriber) error {
	return c.do(ctx, func() { c.removeSubscriber(sub) })
}

// SubscriberCount returns the number of attached subscribers.
func (c *Coordinator) SubscriberCount(ctx context.Context) (int, error) {
	var n int
	err := c.do(ctx, func() { n = len(c.subs) })
	return n, err
}

// idle reports whether the actor has no subscribers and no pending liveness check.
func (c *Coordinator) idle(ctx context.Context) (bool, error) {
	var ok bool
	err := c.do(ctx, func() { ok = len(c.subs) == 0 && c.alarmAt.IsZero() })
	return ok, err
}

// HandleMessage processes one frame received from sub. Invalid frames are
// returned as errors and leave state untouched; an invalid heatCycleCompleted
// is answered with an "invalid" ack.
func (c *Coordinator) HandleMessage(ctx context.Context, sub Subscriber, data []byte) error {
	msg, perr := ParseMessage(data)
	if perr != nil {
		var pe *ParseError
		if errors.As(perr, &pe) && pe.Type == TypeHeatCycleCompleted && sub.Role() == RoleDevice {
			c.metrics.HeatCycle(ReasonInvalid)
			if err := c.do(ctx, func() { c.reply(sub, ackFail(ReasonInvalid)) }); err != nil {
				return err
			}
		}
		return perr
	}

	var opErr error
	if err := c.do(ctx, func() { opErr = c.dispatch(ctx, sub, msg) }); err != nil {
		return err
	}
	return opErr
}

// Alarm runs the liveness check now, as the scheduled alarm would.
func (c *Coordinator) Alarm(ctx context.Context) error {
	return c.do(ctx, func() { c.onAlarm(ctx) })
}
