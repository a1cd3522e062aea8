package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dronefleet/fleetctl/internal/telemetry"
)

// wsMessage is the envelope for both client->server and server->client
// frames (type/data/timestamp).
type wsMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsHandlers serves `/ws`, the real-time dashboard feed driven by
// telemetry.Broadcaster: a register/unregister/per-client-send-channel
// shape, with each telemetry Frame carrying one drone's full record.
type wsHandlers struct {
	handler
	telemetry Broadcaster
	upgrader  websocket.Upgrader
}

func newWSHandlers(h handler, b Broadcaster) *wsHandlers {
	return &wsHandlers{
		handler:   h,
		telemetry: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Every Origin is accepted. corsMiddleware only sets CORS
			// response headers for allow-listed origins and rejects none,
			// so no origin check applies to the handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type clientSubscribeMsg struct {
	DroneID string `json:"drone_id"`
}

// serve upgrades the connection, subscribes to the Broadcaster (filtered to
// a drone if ?drone_id= is present), and pumps frames out while pumping
// client control messages in: ping gets a pong; subscribe_drone and
// get_drone_status get an "event" reply only (the filter stays fixed and
// status arrives with the next broadcast frame).
func (h *wsHandlers) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("httpapi: websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	filter, _ := targetDrone(c)
	frames := h.telemetry.Subscribe(clientID, filter)
	defer h.telemetry.Unsubscribe(clientID)

	done := make(chan struct{})
	go h.writePump(conn, frames, done)
	h.readPump(conn, clientID, done)
}

func (h *wsHandlers) writePump(conn *websocket.Conn, frames <-chan telemetry.Frame, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			msg := wsMessage{Type: "drone_status_update", Data: frame, Timestamp: frame.At}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// readPump drains client control messages until the connection closes.
// Resubscribing to change the filter isn't supported mid-connection (the
// Broadcaster keys subscriptions by ID+filter at Subscribe time) — a
// client that wants a different drone reconnects with a new ?drone_id=.
func (h *wsHandlers) readPump(conn *websocket.Conn, clientID string, done chan<- struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			_ = conn.WriteJSON(wsMessage{Type: "pong", Timestamp: time.Now()})
		case "subscribe_drone":
			var sub clientSubscribeMsg
			if b, err := json.Marshal(msg.Data); err == nil {
				_ = json.Unmarshal(b, &sub)
			}
			_ = conn.WriteJSON(wsMessage{
				Type: "event",
				Data: gin.H{"message": "subscription is fixed per-connection; reconnect with ?drone_id=" + sub.DroneID},
				Timestamp: time.Now(),
			})
		case "get_drone_status":
			_ = conn.WriteJSON(wsMessage{Type: "event", Data: gin.H{"message": "awaiting next broadcast tick"}, Timestamp: time.Now()})
		}
	}
}
