package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/amelia-dev/amelia/pkg/bus"
	"github.com/amelia-dev/amelia/pkg/models"
)

// connQueueSize bounds the bus queue behind each WebSocket connection. A
// client that cannot drain this many events is closed as a slow consumer and
// expected to reconnect with since_sequence.
const connQueueSize = 256

// ConnectionManager owns all live WebSocket connections. Each connection
// holds its own bus subscription; the manager never fans out itself.
type ConnectionManager struct {
	bus          *bus.Bus
	writeTimeout time.Duration

	mu          sync.Mutex
	connections map[string]*Connection
}

// Connection is one WebSocket client.
type Connection struct {
	ID   string
	conn *websocket.Conn
}

// NewConnectionManager creates a ConnectionManager over the event bus.
func NewConnectionManager(eventBus *bus.Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          eventBus,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
	}
}

// ConnectionCount returns the number of live connections.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// helloFrame is the first frame on every connection.
type helloFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// heartbeatFrame keeps idle connections alive.
type heartbeatFrame struct {
	Type string `json:"type"`
}

// HandleConnection streams events to one client until it disconnects, the
// context ends, or the client falls too far behind. Blocks; called by the
// WebSocket HTTP handler after upgrade. idleTimeout is how long the stream
// may stay silent before a heartbeat frame is sent.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, opts bus.SubscribeOptions, idleTimeout time.Duration) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c := &Connection{ID: uuid.New().String(), conn: conn}
	m.register(c)
	defer m.unregister(c)

	opts.QueueSize = connQueueSize
	sub := m.bus.Subscribe(ctx, opts)
	defer sub.Close()

	// Drain client frames so pings and close frames are processed; the
	// protocol has no meaningful client messages.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	if err := m.sendJSON(ctx, c, helloFrame{Type: "connection.established", ConnectionID: c.ID}); err != nil {
		return
	}

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return

		case e, ok := <-sub.Events():
			if !ok {
				// The bus dropped the subscription: this client is too slow.
				slog.Warn("Closing slow WebSocket consumer",
					"connection_id", c.ID, "workflow_id", opts.WorkflowID)
				_ = conn.Close(websocket.StatusPolicyViolation, "slow_consumer")
				return
			}
			if err := m.sendEvent(ctx, c, e); err != nil {
				return
			}
			resetTimer(idle, idleTimeout)

		case <-idle.C:
			if err := m.sendJSON(ctx, c, heartbeatFrame{Type: "heartbeat"}); err != nil {
				return
			}
			idle.Reset(idleTimeout)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (m *ConnectionManager) sendEvent(ctx context.Context, c *Connection, e *models.Event) error {
	return m.sendJSON(ctx, c, e)
}

// sendJSON writes one frame under the write timeout. A failed write means
// the connection is dead; the caller tears it down.
func (m *ConnectionManager) sendJSON(ctx context.Context, c *Connection, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal WebSocket frame", "connection_id", c.ID, "error", err)
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return err
	}
	return nil
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, c.ID)
}
