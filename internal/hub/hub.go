// Package hub fans order events out to currently-connected clients. Rooms
// are keyed by order id, created lazily on first subscribe and pruned when
// the last subscriber leaves. Delivery is at-most-once with no replay;
// clients reconcile through the REST API after (re)connecting.
package hub

import (
	"fmt"
	"sync"

	"campus-eats/internal/state"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"
)

// Conn is the write side of one subscriber connection. Websocket clients
// satisfy it; tests use channel-backed fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type Hub struct {
	mu     sync.Mutex
	rooms  map[int64]map[Conn]state.Actor
	logger *logger.Logger
}

func New(logger *logger.Logger) *Hub {
	return &Hub{
		rooms:  make(map[int64]map[Conn]state.Actor),
		logger: logger,
	}
}

func (h *Hub) Subscribe(orderID int64, role state.Actor, conn Conn) {
	h.mu.Lock()
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[Conn]state.Actor)
		h.rooms[orderID] = room
	}
	room[conn] = role
	h.mu.Unlock()

	h.logger.Debug("", "room_subscribed",
		fmt.Sprintf("Role %s subscribed to order %d", role, orderID))
}

func (h *Hub) Unsubscribe(orderID int64, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(orderID, conn)
}

// Drop removes the connection from every room it is in, typically on
// socket close.
func (h *Hub) Drop(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for orderID := range h.rooms {
		h.removeLocked(orderID, conn)
	}
}

// Publish sends the event to every connection in the order's room. A write
// failure detaches only the failing connection.
func (h *Hub) Publish(orderID int64, event models.Event) {
	h.mu.Lock()
	room := h.rooms[orderID]
	conns := make([]Conn, 0, len(room))
	for conn := range room {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug("", "subscriber_dropped",
				fmt.Sprintf("Dropping dead subscriber of order %d", orderID))
			h.mu.Lock()
			h.removeLocked(orderID, conn)
			h.mu.Unlock()
			conn.Close()
		}
	}
}

// RoomSize reports the current number of subscribers for an order.
func (h *Hub) RoomSize(orderID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[orderID])
}

func (h *Hub) removeLocked(orderID int64, conn Conn) {
	room, ok := h.rooms[orderID]
	if !ok {
		return
	}
	if _, ok := room[conn]; !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(h.rooms, orderID)
	}
}
