package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"heizbox/internal/coordinator"
	"heizbox/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxMsgSize  = 1 << 16 // 64 KB
	sendBufSize = 64

	// bounds one inbound frame's trip through the coordinator
	messageTimeout = 15 * time.Second
)

var (
	errClientClosed  = errors.New("websocket client closed")
	errSendQueueFull = errors.New("websocket send queue full")
)

// Upgrader for HTTP -> WebSocket. Devices and the dashboard connect from
// arbitrary origins.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is a coordinator.Subscriber backed by a websocket connection.
// Send only enqueues; writePump owns all writes to conn.
type wsClient struct {
	conn *websocket.Conn
	role coordinator.Role
	log  *logger.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, role coordinator.Role, log *logger.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		role: role,
		log:  log,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
}

func (w *wsClient) Role() coordinator.Role { return w.role }

// Send queues msg. A full queue counts as a failed send.
func (w *wsClient) Send(msg []byte) error {
	select {
	case <-w.done:
		return errClientClosed
	default:
	}
	select {
	case w.send <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close stops the write pump, which flushes queued messages and closes conn.
func (w *wsClient) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *wsClient) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case msg := <-w.send:
			if err := w.write(websocket.TextMessage, msg); err != nil {
				w.log.Infow("ws_write_failed", "err", err)
				w.Close()
				return
			}
		case <-ping.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				w.log.Infow("ws_ping_failed", "err", err)
				w.Close()
				return
			}
		case <-w.done:
			w.flush()
			_ = w.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued.
func (w *wsClient) flush() {
	for {
		select {
		case msg := <-w.send:
			if err := w.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *wsClient) write(messageType int, data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

// @Summary      Live connection
// @Description  Upgrades to a websocket. type is device (default) or frontend.
// @Tags         device
// @Param        deviceId  query  string  false  "Device id (gateway route)"
// @Param        type      query  string  false  "Connection role"  Enums(device,frontend)
// @Success      101  {string}  string  "switching protocols"
// @Failure      400  {object}  map[string]string
// @Router       /ws [get]
// @Router       /api/device-status/{deviceId}/ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	rawID := c.GetString(ctxDeviceID)
	if rawID == "" {
		rawID = c.Query("deviceId")
	}
	deviceID, err := coordinator.ValidateDeviceID(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(ctxDeviceID, deviceID)
	role, err := coordinator.ParseRole(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorw("ws_upgrade_failed", "err", err, "device_id", deviceID)
		return
	}

	log := h.log.With("device_id", deviceID, "role", role)
	client := newWSClient(conn, role, log)
	go client.writePump()
	defer client.Close()

	ctx := c.Request.Context()
	if err := coord.Attach(ctx, client); err != nil {
		log.Infow("ws_attach_failed", "err", err)
		return
	}
	defer func() {
		detachCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := coord.Detach(detachCtx, client); err != nil && !errors.Is(err, coordinator.ErrClosed) {
			log.Warnw("ws_detach_failed", "err", err)
		}
	}()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.readPump(ctx, coord, client)
}

// readPump forwards frames to the coordinator one at a time, in arrival order,
// until the connection fails or the coordinator shuts down.
func (h *Handler) readPump(ctx context.Context, coord *coordinator.Coordinator, client *wsClient) {
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			client.log.Infow("ws_read_closed", "err", err)
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))

		msgCtx, cancel := context.WithTimeout(ctx, messageTimeout)
		err = coord.HandleMessage(msgCtx, client, data)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, coordinator.ErrInvalidMessage):
			client.log.Debugw("ws_message_ignored", "err", err)
		case errors.Is(err, coordinator.ErrClosed), errors.Is(err, context.Canceled):
			return
		default:
			client.log.Warnw("ws_message_failed", "err", err)
		}
	}
}
