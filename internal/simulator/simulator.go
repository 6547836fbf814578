// Package simulator plays a heating device against the server's live
// connection endpoint for local development.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"heizbox/internal/logger"

	"github.com/gorilla/websocket"
)

// ----------- Simulation constants -----------
const (
	MinCycleSeconds = 8.0  // shortest simulated heat cycle
	MaxCycleSeconds = 20.0 // longest simulated heat cycle
	CyclesPerCap    = 4    // cycle numbers run 1..CyclesPerCap

	defaultTick    = 30 * time.Second
	reconnectDelay = 2 * time.Second
	writeWait      = 5 * time.Second
)

// Config controls one simulated device.
type Config struct {
	URL        string // e.g. ws://localhost:8080/ws
	DeviceID   string
	Tick       time.Duration
	CycleEvery int // send a heatCycleCompleted every n ticks; 0 disables
}

// Simulator sends heartbeats and heat cycles like a real device would.
type Simulator struct {
	cfg    Config
	log    *logger.Logger
	dialer *websocket.Dialer
	rnd    *rand.Rand

	ticks int
	cycle int
}

// New returns a simulator with defaults.
func New(cfg Config, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	return &Simulator{
		cfg:    cfg,
		log:    log.With("component", "simulator", "device_id", cfg.DeviceID),
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Endpoint returns the websocket URL with the device query parameters.
func (s *Simulator) Endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse simulator url: %w", err)
	}
	q := u.Query()
	q.Set("deviceId", s.cfg.DeviceID)
	q.Set("type", "device")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and ticks at the configured interval until ctx is canceled,
// reconnecting after any connection failure.
func (s *Simulator) Run(ctx context.Context) {
	endpoint, err := s.Endpoint()
	if err != nil {
		s.log.Errorw("simulator_disabled", "err", err)
		return
	}
	for {
		if err := s.session(ctx, endpoint); err != nil {
			s.log.Infow("simulator_disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// session runs one connection until it fails or ctx ends.
func (s *Simulator) session(ctx context.Context, endpoint string) error {
	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	s.log.Infow("simulator_connected", "url", endpoint)

	// drain server events so control frames are processed
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			s.log.Debugw("simulator_event", "event", string(data))
		}
	}()

	if err := s.send(conn, map[string]any{"type": "heartbeat"}); err != nil {
		return err
	}

	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-t.C:
			for _, msg := range s.step() {
				if err := s.send(conn, msg); err != nil {
					return err
				}
			}
		}
	}
}

// step advances the simulation by one tick and returns the frames to send.
func (s *Simulator) step() []map[string]any {
	s.ticks++
	out := []map[string]any{{"type": "heartbeat"}}
	if s.cfg.CycleEvery > 0 && s.ticks%s.cfg.CycleEvery == 0 {
		s.cycle = s.cycle%CyclesPerCap + 1
		duration := MinCycleSeconds + s.rnd.Float64()*(MaxCycleSeconds-MinCycleSeconds)
		out = append(out, map[string]any{
			"type":     "heatCycleCompleted",
			"duration": roundTenth(duration),
			"cycle":    s.cycle,
		})
	}
	return out
}

func (s *Simulator) send(conn *websocket.Conn, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
