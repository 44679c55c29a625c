package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kashima-app/kashima/core/infra/bus"
	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/logging"
	"github.com/kashima-app/kashima/core/infra/metrics"
)

const (
	defaultIdentifyGrace    = 15 * time.Second
	defaultHeartbeatTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway is the long-lived WebSocket service. Connection state lives on this
// one instance; there are no process-level singletons.
type Gateway struct {
	api     *APIClient
	bus     bus.Publisher
	metrics metrics.GatewayMetrics

	identifyGrace    time.Duration
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*Connection

	methods []Method
	httpSrv *http.Server
}

// NewGateway wires the gateway against the REST API and presence bus.
func NewGateway(cfg *config.Config, api *APIClient, publisher bus.Publisher, m metrics.GatewayMetrics) *Gateway {
	if publisher == nil {
		publisher = bus.NoopPublisher{}
	}
	if m == nil {
		m = metrics.Noop{}
	}
	g := &Gateway{
		api:              api,
		bus:              publisher,
		metrics:          m,
		identifyGrace:    defaultIdentifyGrace,
		heartbeatTimeout: defaultHeartbeatTimeout,
		clients:          map[string]*Connection{},
		methods:          methodTable(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", g.handleUpgrade)
	g.httpSrv = &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpSrv.Handler
}

// Start blocks serving WebSocket upgrades until Shutdown.
func (g *Gateway) Start() error {
	logging.Info("gateway", "listening", "addr", g.httpSrv.Addr)
	if err := g.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown closes every live connection with the server-closed code, then
// stops the listener.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	clients := make([]*Connection, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()
	for _, c := range clients {
		c.close(CloseServerClosed, "Server is shutting down.")
	}
	return g.httpSrv.Shutdown(ctx)
}

// ConnectionCount returns the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("gateway", "upgrade failed", "error", err)
		return
	}

	client := newConnection(socket)
	g.mu.Lock()
	g.clients[client.ID] = client
	total := len(g.clients)
	g.mu.Unlock()

	g.metrics.ConnectionOpened()
	logging.Info("gateway", "connection opened", "client", client.ID, "connections", total)

	client.armTimers(g.identifyGrace, g.heartbeatTimeout)
	go g.readLoop(client)
}

// readLoop processes one connection's messages in arrival order. It owns the
// connection's lifecycle end: when the socket dies, the close path runs once.
func (g *Gateway) readLoop(client *Connection) {
	defer g.onClose(client)
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(client, raw)
	}
}

func (g *Gateway) onClose(client *Connection) {
	client.stopTimers()

	g.mu.Lock()
	delete(g.clients, client.ID)
	total := len(g.clients)
	g.mu.Unlock()

	g.metrics.ConnectionClosed(strconv.Itoa(client.CloseCode()))
	logging.Warn("gateway", "connection closed", "client", client.ID, "connections", total)

	// Fire-and-forget: presence reset must not block teardown.
	if user := client.User(); user != nil {
		go func() {
			if err := g.api.UpdateStatus(user.JWT, "offline", ""); err != nil {
				logging.Warn("gateway", "offline presence update failed",
					"client", client.ID, "user", user.Username, "error", err)
			}
			g.publishPresence(user.Username, "offline", "")
		}()
	}

	_ = client.conn.Close()
}

// dispatch is the message-level pipeline: parse the envelope, resolve the
// opcode in the method table, run the handler. Replies always echo the
// caller's nonce; unparsable messages get a freshly generated one since none
// could be read.
func (g *Gateway) dispatch(client *Connection, raw []byte) {
	var payload Envelope
	if err := json.Unmarshal(raw, &payload); err != nil {
		client.SendError(uuid.NewString(), "Unable to parse payload.")
		return
	}

	nonce := payload.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}
	if payload.Op == "" {
		client.SendError(nonce, "Payload didn't get any OPCode.")
		return
	}

	for _, method := range g.methods {
		if method.Op != payload.Op {
			continue
		}
		g.metrics.IncMessage(payload.Op)
		method.Run(g, client, &payload, nonce)
		logging.Info("gateway", "ran method", "op", payload.Op, "client", client.ID)
		return
	}
	logging.Warn("gateway", "unknown opcode", "op", payload.Op, "client", client.ID)
	client.SendError(nonce, "Unknown OPCode: "+payload.Op)
}

func (g *Gateway) publishPresence(username, status, song string) {
	if err := g.bus.PublishPresence(username, status, song); err != nil {
		logging.Warn("gateway", "presence publish failed", "user", username, "error", err)
	}
}
