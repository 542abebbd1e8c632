package hub

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"campus-eats/internal/state"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WSHandler upgrades the connection and runs the read loop for the realtime
// channel: subscribe requests join rooms, courier location samples are
// re-broadcast to the order's room.
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

func NewWSHandler(hub *Hub, logger *logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, role state.Actor) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("", "ws_upgrade_failed", "Failed to upgrade websocket connection", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer func() {
		h.hub.Drop(conn)
		conn.Close()
	}()

	for {
		var msg models.ClientMessage
		if err := raw.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			if msg.OrderID == 0 {
				continue
			}
			h.hub.Subscribe(msg.OrderID, role, conn)
			ack := models.Event{
				Type:      models.EventSubscribed,
				OrderID:   msg.OrderID,
				Timestamp: time.Now().UTC(),
			}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
		case "location":
			if role != state.ActorCourier {
				h.logger.Debug("", "location_rejected",
					fmt.Sprintf("Role %s attempted to publish a location for order %d", role, msg.OrderID))
				continue
			}
			h.hub.Publish(msg.OrderID, models.Event{
				Type:      models.EventLocation,
				OrderID:   msg.OrderID,
				Lat:       msg.Lat,
				Lng:       msg.Lng,
				Timestamp: time.Now().UTC(),
			})
		default:
			h.logger.Debug("", "ws_unknown_message",
				fmt.Sprintf("Ignoring unknown client message type %q", msg.Type))
		}
	}
}
