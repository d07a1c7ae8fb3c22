// Package alerts streams monitor outcomes to WebSocket subscribers and
// fans alert sinks together.
package alerts

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terminal-bench/collateralvault/internal/reconcile"
)

// Hub broadcasts drift alerts and check failures to connected WebSocket
// clients. Satisfies reconcile.AlertSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

type wsMessage struct {
	Kind         string    `json:"kind"` // "drift" or "check_failed"
	VaultID      uuid.UUID `json:"vault_id"`
	LedgerTotal  uint64    `json:"ledger_total,omitempty"`
	CustodyTotal uint64    `json:"custody_total,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*client)}
}

// Register adds a connection and starts its writer. The hub owns the
// connection from here on.
func (h *Hub) Register(conn *websocket.Conn) uuid.UUID {
	c := &client{
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	id := uuid.New()

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	go func() {
		defer h.remove(id)
		for {
			select {
			case msg := <-c.send:
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	return id
}

// Unregister drops a connection.
func (h *Hub) Unregister(id uuid.UUID) {
	h.remove(id)
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		close(c.done)
		c.conn.Close()
	}
}

// DriftDetected broadcasts a drift alert with both observed balances.
func (h *Hub) DriftDetected(ctx context.Context, res reconcile.Result) {
	h.broadcast(wsMessage{
		Kind:         "drift",
		VaultID:      res.VaultID,
		LedgerTotal:  res.LedgerTotal,
		CustodyTotal: res.CustodyTotal,
		Timestamp:    time.Now().UTC(),
	})
}

// CheckFailed broadcasts a transport-level check failure.
func (h *Hub) CheckFailed(ctx context.Context, vaultID uuid.UUID, err error) {
	h.broadcast(wsMessage{
		Kind:      "check_failed",
		VaultID:   vaultID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) broadcast(msg wsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("alerts: failed to marshal broadcast: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop rather than stall the monitor.
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Multi fans monitor outcomes to several sinks.
type Multi struct {
	sinks []reconcile.AlertSink
}

// NewMulti combines alert sinks.
func NewMulti(sinks ...reconcile.AlertSink) *Multi {
	return &Multi{sinks: sinks}
}

// DriftDetected forwards to every sink.
func (m *Multi) DriftDetected(ctx context.Context, res reconcile.Result) {
	for _, s := range m.sinks {
		s.DriftDetected(ctx, res)
	}
}

// CheckFailed forwards to every sink.
func (m *Multi) CheckFailed(ctx context.Context, vaultID uuid.UUID, err error) {
	for _, s := range m.sinks {
		s.CheckFailed(ctx, vaultID, err)
	}
}
