package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"heizbox/internal/repository"
)

func TestRegistry_SameInstancePerDevice(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)

	a, err := r.Get(testCtx(t), "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := r.Get(testCtx(t), " dev-1 ")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatal("expected the same coordinator for the same device")
	}
	other, _ := r.Get(testCtx(t), "dev-2")
	if other == a {
		t.Fatal("devices must not share a coordinator")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRegistry_InvalidDeviceID(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)

	for _, id := range []string{"", "   ", "a/b", "dev#1", "x+y", string(make([]byte, 200))} {
		if _, err := r.Get(testCtx(t), id); !errors.Is(err, ErrInvalidDeviceID) {
			t.Fatalf("%q: expected ErrInvalidDeviceID, got %v", id, err)
		}
	}
	if r.Len() != 0 {
		t.Fatal("invalid ids must not create coordinators")
	}
}

func TestRegistry_FailedInitIsEvicted(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)

	h.store.getErr = errors.New("store down")
	if _, err := r.Get(testCtx(t), "dev"); err == nil {
		t.Fatal("expected init error")
	}
	if r.Len() != 0 {
		t.Fatal("failed coordinator kept in registry")
	}

	h.store.mu.Lock()
	h.store.getErr = nil
	h.store.mu.Unlock()
	if _, err := r.Get(testCtx(t), "dev"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestRegistry_CloseRejectsFurtherGets(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)

	c, err := r.Get(testCtx(t), "dev")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r.Close()
	r.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("coordinator still running after registry close")
	}
	if _, err := r.Get(testCtx(t), "dev"); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestRegistry_RestoreAlarms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := h.clock.Now().Add(time.Minute)
	for _, id := range []string{"a", "b"} {
		if err := h.store.StateStore.ForDevice(id).SetAlarm(ctx, at); err != nil {
			t.Fatalf("SetAlarm: %v", err)
		}
	}
	_ = h.store.StateStore.ForDevice("c").Put(ctx, repository.KeyIsOn, true)

	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)
	n, err := r.RestoreAlarms(testCtx(t))
	if err != nil {
		t.Fatalf("RestoreAlarms: %v", err)
	}
	if n != 2 || r.Len() != 2 {
		t.Fatalf("restored %d, live %d; want 2", n, r.Len())
	}
	got, ok := h.alarm(t, "a")
	if !ok || !got.Equal(at) {
		t.Fatalf("restored alarm moved: %v %v", got, ok)
	}
}

// quiesce consumes the pending alarm of an off device, leaving it idle.
func quiesce(t *testing.T, h *harness, c *Coordinator) {
	t.Helper()
	h.clock.Advance(testThreshold + time.Second)
	if err := c.Alarm(testCtx(t)); err != nil {
		t.Fatalf("Alarm: %v", err)
	}
}

func TestRegistry_RetireIdle(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)

	c, err := r.Get(testCtx(t), "dev")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	heating := true
	if _, err := c.UpdateStatus(testCtx(t), StatusPatch{IsHeating: &heating}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// init alarm still pending
	h.clock.Advance(time.Minute)
	if n := r.RetireIdle(testCtx(t), 30*time.Second); n != 0 {
		t.Fatalf("retired %d coordinators with a pending alarm", n)
	}

	quiesce(t, h, c)
	if n := r.RetireIdle(testCtx(t), 30*time.Second); n != 1 || r.Len() != 0 {
		t.Fatalf("retired %d, live %d; want 1 and 0", n, r.Len())
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("retired coordinator still running")
	}

	fresh, err := r.Get(testCtx(t), "dev")
	if err != nil {
		t.Fatalf("Get after retire: %v", err)
	}
	if fresh == c {
		t.Fatal("expected a new coordinator")
	}
	st, err := fresh.State(testCtx(t))
	if err != nil || !st.IsHeating {
		t.Fatalf("stored state lost across retirement: %+v %v", st, err)
	}
}

func TestRegistry_RetireIdleKeepsBusyCoordinators(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)

	watched, _ := r.Get(testCtx(t), "watched")
	attach(t, watched, newSub(RoleFrontend))
	online, _ := r.Get(testCtx(t), "online")
	recent, _ := r.Get(testCtx(t), "recent")
	quiesce(t, h, watched)
	quiesce(t, h, recent)

	// heartbeat re-arms the alarm of the online device
	if err := online.Alarm(testCtx(t)); err != nil {
		t.Fatalf("Alarm: %v", err)
	}
	if err := online.Heartbeat(testCtx(t)); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	h.clock.Advance(time.Minute)
	if _, err := r.Get(testCtx(t), "recent"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if n := r.RetireIdle(testCtx(t), 30*time.Second); n != 0 {
		t.Fatalf("retired %d busy coordinators", n)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
}

func TestRegistry_RunRetirementDisabled(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps, h.opts)
	t.Cleanup(r.Close)

	finished := make(chan struct{})
	go func() {
		r.RunRetirement(context.Background(), 0)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("RunRetirement with zero idle time must return at once")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "", want: RoleDevice},
		{in: "device", want: RoleDevice},
		{in: "Frontend", want: RoleFrontend},
		{in: "admin", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseRole(%q) = %q, %v", tt.in, got, err)
		}
	}
}
