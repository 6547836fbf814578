package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"heizbox/internal/coordinator"

	"github.com/gorilla/websocket"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wsURL(t *testing.T, srv *httptest.Server, path string, query url.Values) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

func dial(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type event map[string]json.RawMessage

func (e event) typ() string {
	var s string
	_ = json.Unmarshal(e["type"], &s)
	return s
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

// readUntil skips events until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) event {
	t.Helper()
	for i := 0; i < 10; i++ {
		if ev := readEvent(t, conn); ev.typ() == typ {
			return ev
		}
	}
	t.Fatalf("no %s event received", typ)
	return nil
}

func TestWebSocket_ConnectSnapshots(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	front := dial(t, wsURL(t, srv, "/ws", url.Values{"deviceId": {"dev"}, "type": {"frontend"}}))
	ev := readEvent(t, front)
	if ev.typ() != coordinator.TypeStatusUpdate || string(ev["isOn"]) != "false" {
		t.Fatalf("frontend snapshot: %v", ev)
	}

	device := dial(t, wsURL(t, srv, "/api/device-status/dev/ws", nil))
	want := []string{coordinator.TypeStatusUpdate, coordinator.TypeHeartbeat, coordinator.TypeSessionData}
	for _, typ := range want {
		ev := readEvent(t, device)
		if ev.typ() != typ {
			t.Fatalf("device snapshot: got %s, want %s", ev.typ(), typ)
		}
		if typ == coordinator.TypeSessionData {
			if _, ok := ev["heat_cycles"]; ok {
				t.Fatal("device sessionData must not carry heat_cycles")
			}
		}
	}
}

func TestWebSocket_RejectsBadHandshake(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	cases := []url.Values{
		{"deviceId": {"dev"}, "type": {"admin"}},
		{"type": {"device"}},
		{"deviceId": {"  "}},
	}
	for _, q := range cases {
		dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
		conn, resp, err := dialer.Dial(wsURL(t, srv, "/ws", q), nil)
		if err == nil {
			_ = conn.Close()
			t.Fatalf("%v: expected handshake failure", q)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %v", q, resp)
		}
	}
}

func TestWebSocket_DeviceTrafficReachesFrontend(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	front := dial(t, wsURL(t, srv, "/ws", url.Values{"deviceId": {"esp"}, "type": {"frontend"}}))
	_ = readEvent(t, front)
	device := dial(t, wsURL(t, srv, "/ws", url.Values{"deviceId": {"esp"}, "type": {"device"}}))
	for i := 0; i < 3; i++ {
		_ = readEvent(t, device)
	}

	if err := device.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readUntil(t, front, coordinator.TypeStatusUpdate)
	if string(ev["isOn"]) != "true" {
		t.Fatalf("frontend expected isOn=true, got %v", ev)
	}

	// malformed frames are dropped without closing the connection
	if err := device.WriteMessage(websocket.TextMessage, []byte(`{oops`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := device.WriteMessage(websocket.TextMessage, []byte(`{"type":"heatCycleCompleted","duration":12,"cycle":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	sd := readUntil(t, device, coordinator.TypeSessionData)
	if _, ok := sd["heat_cycles"]; ok {
		t.Fatal("device sessionData must not carry heat_cycles")
	}
	ack := readUntil(t, device, coordinator.TypeAck)
	if string(ack["success"]) != "true" {
		t.Fatalf("ack: %v", ack)
	}
	fsd := readUntil(t, front, coordinator.TypeSessionData)
	if !strings.Contains(string(fsd["heat_cycles"]), `"duration":12`) {
		t.Fatalf("frontend sessionData missing history: %v", fsd)
	}

	// same submission again is a duplicate
	if err := device.WriteMessage(websocket.TextMessage, []byte(`{"type":"heatCycleCompleted","duration":12,"cycle":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack = readUntil(t, device, coordinator.TypeAck)
	if string(ack["success"]) != "false" || !strings.Contains(string(ack["reason"]), coordinator.ReasonDuplicate) {
		t.Fatalf("duplicate ack: %v", ack)
	}
}

func TestWebSocket_DisconnectDetaches(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dial(t, wsURL(t, srv, "/ws", url.Values{"deviceId": {"gone"}, "type": {"frontend"}}))
	_ = readEvent(t, conn)

	coord, err := env.registry.Get(testCtx(t), "gone")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n, _ := coord.SubscriberCount(testCtx(t)); n != 1 {
		t.Fatalf("want 1 subscriber, got %d", n)
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := coord.SubscriberCount(testCtx(t)); n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscriber not detached after disconnect")
}

func TestWSClient_FullQueueFailsSend(t *testing.T) {
	c := &wsClient{send: make(chan []byte, 1), done: make(chan struct{})}
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); err != errSendQueueFull {
		t.Fatalf("want errSendQueueFull, got %v", err)
	}
	c.Close()
	c.Close()
	if err := c.Send([]byte("c")); err != errClientClosed {
		t.Fatalf("want errClientClosed, got %v", err)
	}
}
