package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"heizbox/internal/logger"
	"heizbox/internal/models"
	"heizbox/internal/repository"

	"github.com/google/uuid"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSub records everything sent to it.
type fakeSub struct {
	role Role

	mu      sync.Mutex
	msgs    [][]byte
	sendErr error
	closed  bool
}

func newSub(role Role) *fakeSub { return &fakeSub{role: role} }

func (s *fakeSub) Role() Role { return s.role }

func (s *fakeSub) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.msgs = append(s.msgs, append([]byte(nil), msg...))
	return nil
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) failSends() {
	s.mu.Lock()
	s.sendErr = errors.New("broken pipe")
	s.mu.Unlock()
}

func (s *fakeSub) reset() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// events decodes every received message.
func (s *fakeSub) events(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]json.RawMessage, 0, len(s.msgs))
	for _, m := range s.msgs {
		var ev map[string]json.RawMessage
		if err := json.Unmarshal(m, &ev); err != nil {
			t.Fatalf("subscriber got invalid json %q: %v", m, err)
		}
		out = append(out, ev)
	}
	return out
}

func (s *fakeSub) ofType(t *testing.T, typ string) []map[string]json.RawMessage {
	t.Helper()
	var out []map[string]json.RawMessage
	for _, ev := range s.events(t) {
		if evType(ev) == typ {
			out = append(out, ev)
		}
	}
	return out
}

func evType(ev map[string]json.RawMessage) string {
	var typ string
	_ = json.Unmarshal(ev["type"], &typ)
	return typ
}

func boolOf(t *testing.T, ev map[string]json.RawMessage, key string) bool {
	t.Helper()
	var b bool
	if err := json.Unmarshal(ev[key], &b); err != nil {
		t.Fatalf("field %s: %v (event %v)", key, err, ev)
	}
	return b
}

func stringOf(ev map[string]json.RawMessage, key string) string {
	var s string
	_ = json.Unmarshal(ev[key], &s)
	return s
}

// fakeRecorder is an in-memory service.HeatCycles.
type fakeRecorder struct {
	mu      sync.Mutex
	records []models.HeatCycle
	err     error
	calls   int
	clock   func() time.Time
}

func (f *fakeRecorder) Record(ctx context.Context, duration float64, cycle int) (models.HeatCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return models.HeatCycle{}, f.err
	}
	rec := models.HeatCycle{ID: uuid.NewString(), CreatedAt: f.clock().Unix(), Duration: duration, Cycle: cycle}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeRecorder) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRecorder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSessions derives session data from the recorder's rows.
type fakeSessions struct {
	rec   *fakeRecorder
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSessions) CurrentSessionData(ctx context.Context) (models.SessionData, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return models.SessionData{}, err
	}

	f.rec.mu.Lock()
	rows := append([]models.HeatCycle(nil), f.rec.records...)
	f.rec.mu.Unlock()

	data := models.SessionData{HeatCycles: [][]models.HeatCycle{}}
	data.Clicks = len(rows)
	for _, r := range rows {
		if r.Cycle == 1 {
			data.Caps++
		}
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1].CreatedAt
		data.LastClick = &last
		data.HeatCycles = [][]models.HeatCycle{rows}
	}
	return data, nil
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// faultyStore wraps a StateStore and can fail writes or reads on demand.
type faultyStore struct {
	repository.StateStore

	mu       sync.Mutex
	putErr   error
	getErr   error
	alarmErr error
	puts     map[string]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{StateStore: repository.NewStateMemory(), puts: map[string]int{}}
}

func (s *faultyStore) ForDevice(id string) repository.DeviceStorage {
	return &faultyDevice{DeviceStorage: s.StateStore.ForDevice(id), parent: s}
}

func (s *faultyStore) failPuts(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

func (s *faultyStore) failAlarmWrites(err error) {
	s.mu.Lock()
	s.alarmErr = err
	s.mu.Unlock()
}

func (s *faultyStore) putCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[key]
}

type faultyDevice struct {
	repository.DeviceStorage
	parent *faultyStore
}

func (d *faultyDevice) Get(ctx context.Context, key string, dst any) (bool, error) {
	d.parent.mu.Lock()
	err := d.parent.getErr
	d.parent.mu.Unlock()
	if err != nil {
		return false, err
	}
	return d.DeviceStorage.Get(ctx, key, dst)
}

func (d *faultyDevice) Put(ctx context.Context, key string, value any) error {
	d.parent.mu.Lock()
	err := d.parent.putErr
	if err == nil {
		d.parent.puts[key]++
	}
	d.parent.mu.Unlock()
	if err != nil {
		return err
	}
	return d.DeviceStorage.Put(ctx, key, value)
}

func (d *faultyDevice) SetAlarm(ctx context.Context, at time.Time) error {
	d.parent.mu.Lock()
	err := d.parent.alarmErr
	d.parent.mu.Unlock()
	if err != nil {
		return err
	}
	return d.DeviceStorage.SetAlarm(ctx, at)
}

type harness struct {
	clock    *fakeClock
	store    *faultyStore
	rec      *fakeRecorder
	sessions *fakeSessions
	deps     Dependencies
	opts     Options
}

const testThreshold = 90 * time.Second

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	rec := &fakeRecorder{clock: clock.Now}
	h := &harness{
		clock:    clock,
		store:    newFaultyStore(),
		rec:      rec,
		sessions: &fakeSessions{rec: rec},
	}
	h.deps = Dependencies{
		Store:      h.store,
		HeatCycles: h.rec,
		Sessions:   h.sessions,
		Log:        logger.Nop(),
	}
	h.opts = Options{
		OfflineThreshold:     testThreshold,
		RecentCycleCacheSize: 10,
		SessionCacheTTL:      5 * time.Second,
		Now:                  clock.Now,
	}
	return h
}

func (h *harness) start(t *testing.T, deviceID string) *Coordinator {
	t.Helper()
	c := New(deviceID, h.deps, h.opts)
	t.Cleanup(c.Close)
	if err := c.Ready(testCtx(t)); err != nil {
		t.Fatalf("coordinator init: %v", err)
	}
	return c
}

func (h *harness) stored(t *testing.T, deviceID, key string, dst any) bool {
	t.Helper()
	found, err := h.store.StateStore.ForDevice(deviceID).Get(context.Background(), key, dst)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return found
}

func (h *harness) alarm(t *testing.T, deviceID string) (time.Time, bool) {
	t.Helper()
	at, ok, err := h.store.StateStore.ForDevice(deviceID).GetAlarm(context.Background())
	if err != nil {
		t.Fatalf("read alarm: %v", err)
	}
	return at, ok
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func send(t *testing.T, c *Coordinator, sub Subscriber, msg string) error {
	t.Helper()
	return c.HandleMessage(testCtx(t), sub, []byte(msg))
}

func attach(t *testing.T, c *Coordinator, sub *fakeSub) {
	t.Helper()
	if err := c.Attach(testCtx(t), sub); err != nil {
		t.Fatalf("attach %s: %v", sub.role, err)
	}
}
