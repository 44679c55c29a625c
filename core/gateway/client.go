package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kashima-app/kashima/core/infra/logging"
)

// Close codes sent when the gateway terminates a connection.
const (
	CloseUnknown      = 1000
	CloseServerClosed = 1001
	CloseNoHeartbeat  = 1002
	CloseNoIdentify   = 1003
)

// Envelope is the message frame in both directions.
type Envelope struct {
	Op    string          `json:"op"`
	Nonce string          `json:"nonce,omitempty"`
	T     int64           `json:"t,omitempty"`
	D     json.RawMessage `json:"d,omitempty"`
}

// Connection is the per-socket state: a random id, the principal bound by
// identify, and the two liveness timers. The identify grace timer is resolved
// once a principal binds; the heartbeat timer applies for the connection's
// whole life.
type Connection struct {
	ID string

	conn *websocket.Conn

	mu        sync.Mutex
	user      *Principal
	heartbeat *time.Timer
	identify  *time.Timer
	closeCode int

	writeMu sync.Mutex
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.NewString(),
		conn: conn,
	}
}

// Send writes an envelope with the given opcode and payload. Sends on a dead
// socket are logged, never fatal.
func (c *Connection) Send(op, nonce string, data any) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			logging.Error("gateway", "failed to encode payload", "op", op, "error", err)
			return
		}
		raw = encoded
	}
	frame := Envelope{Op: op, Nonce: nonce, T: time.Now().UnixMilli(), D: raw}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		logging.Warn("gateway", "failed to write frame", "client", c.ID, "op", op, "error", err)
	}
}

// SendError reports a failure to the client, correlated by nonce.
func (c *Connection) SendError(nonce, message string) {
	c.Send(OpError, nonce, map[string]any{"message": message})
}

func (c *Connection) close(code int, reason string) {
	c.mu.Lock()
	if c.closeCode == 0 {
		c.closeCode = code
	}
	c.mu.Unlock()
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// BindPrincipal attaches the identity and resolves the identify grace timer.
// The heartbeat timer keeps running.
func (c *Connection) BindPrincipal(user *Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	if c.identify != nil {
		c.identify.Stop()
		c.identify = nil
	}
}

// CloseCode returns the close code the gateway sent, or CloseUnknown when the
// peer went away on its own.
func (c *Connection) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == 0 {
		return CloseUnknown
	}
	return c.closeCode
}

// User returns the bound principal, nil before identify succeeds.
func (c *Connection) User() *Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// RefreshHeartbeat pushes the heartbeat deadline forward.
func (c *Connection) RefreshHeartbeat(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeat != nil {
		c.heartbeat.Reset(timeout)
	}
}

func (c *Connection) armTimers(identifyGrace, heartbeatTimeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identify = time.AfterFunc(identifyGrace, func() {
		if c.User() != nil {
			return
		}
		logging.Warn("gateway", "no identify within grace period", "client", c.ID)
		c.close(CloseNoIdentify, "No identify packet was sent.")
	})
	c.heartbeat = time.AfterFunc(heartbeatTimeout, func() {
		logging.Warn("gateway", "heartbeat missed", "client", c.ID)
		c.close(CloseNoHeartbeat, "Client didn't send a heartbeat, possibly connection lost.")
	})
}

func (c *Connection) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identify != nil {
		c.identify.Stop()
	}
	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}
}
