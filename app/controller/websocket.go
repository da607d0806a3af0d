package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	SwapID string `json:"swapId"` // Swap ID to subscribe to, or "*" for all swaps
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // event type, "subscribed", "unsubscribed", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

// clientSubscriptions tracks what swaps a client is subscribed to.
type clientSubscriptions struct {
	mu    sync.RWMutex
	swaps map[string]bool // swapId -> subscribed
}

// NewClientSubscriptions creates a new clientSubscriptions tracker.
// Exported for testing.
func NewClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{
		swaps: make(map[string]bool),
	}
}

// Subscribe adds a swap ID to the subscription list.
// Exported for testing.
func (cs *clientSubscriptions) Subscribe(swapID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.swaps[swapID] = true
}

// Unsubscribe removes a swap ID from the subscription list.
// Exported for testing.
func (cs *clientSubscriptions) Unsubscribe(swapID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.swaps, swapID)
}

// IsSubscribed checks if a swap ID is subscribed. Wildcard (*) matches all swaps.
// Exported for testing.
func (cs *clientSubscriptions) IsSubscribed(swapID string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.swaps["*"] {
		return true
	}
	return cs.swaps[swapID]
}

// HandleWebSocket upgrades HTTP connection to WebSocket and streams real-time events.
//
// Protocol:
// Client sends: {"action": "subscribe", "swapId": "42"}  // Subscribe to one swap
// Client sends: {"action": "subscribe", "swapId": "*"}   // Subscribe to ALL swaps
// Client sends: {"action": "unsubscribe", "swapId": "42"}
//
// Server sends:
// - {"type": "swap.matched", "payload": {...}} (any engine event type)
// - {"type": "subscribed", "payload": {"swapId": "42"}}
// - {"type": "unsubscribed", "payload": {"swapId": "42"}}
// - {"type": "error", "payload": {"message": "..."}}
//
// IMPORTANT: All goroutines have panic recovery to prevent crashes.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		err := conn.Close()
		if err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := NewClientSubscriptions()

	// Channel for outgoing messages
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup

	// Forward bus events with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in event forwarder goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.forwardEvents(ctx, send, subs)
	}()

	// Ping ticker (keep-alive) with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in ping ticker goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.sendPings(ctx, conn)
	}()

	// Message writer with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in message writer goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.writeMessages(conn, send)
	}()

	// Blocks until the connection closes
	c.readClientMessages(ctx, conn, cancel, subs, send)

	close(send)
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// forwardEvents consumes the engine event bus and forwards the events the
// client subscribed to. Report-scoped events carry no swap ID and only reach
// wildcard subscribers.
func (c *Controller) forwardEvents(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	ch, cancel := c.App.Bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !subs.IsSubscribed(strconv.FormatUint(ev.SwapID, 10)) {
				continue
			}
			select {
			case send <- ServerMessage{Type: ev.Type, Payload: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
// The client will automatically respond with pong frames, which resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages writes messages from the send channel to the WebSocket connection.
func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Error("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// readClientMessages reads messages from the WebSocket connection.
// Handles subscription/unsubscription requests and detects connection closure.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	err := conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	if err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		err := conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if err != nil {
			c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
			return err
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg ClientMessage
			err := conn.ReadJSON(&msg)
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.App.Logger.Error("WebSocket read error", zap.Error(err))
				}
				cancel()
				return
			}

			err = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if err != nil {
				c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
				return
			}

			switch msg.Action {
			case "subscribe":
				if msg.SwapID == "" {
					send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "swapId is required"}}
					continue
				}
				subs.Subscribe(msg.SwapID)
				c.App.Logger.Debug("Client subscribed", zap.String("swapId", msg.SwapID))
				send <- ServerMessage{Type: "subscribed", Payload: map[string]string{"swapId": msg.SwapID}}

			case "unsubscribe":
				if msg.SwapID == "" {
					send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "swapId is required"}}
					continue
				}
				subs.Unsubscribe(msg.SwapID)
				c.App.Logger.Debug("Client unsubscribed", zap.String("swapId", msg.SwapID))
				send <- ServerMessage{Type: "unsubscribed", Payload: map[string]string{"swapId": msg.SwapID}}

			default:
				send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
			}
		}
	}
}
