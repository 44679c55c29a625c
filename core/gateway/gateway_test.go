package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kashima-app/kashima/core/infra/bus"
	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/metrics"
)

// fakeAPI stands in for the REST API and records status updates.
type fakeAPI struct {
	statusMu      sync.Mutex
	statusUpdates []map[string]any
	statusCh      chan struct{}
	srv           *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{statusCh: make(chan struct{}, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "hunter2" {
			writeEnvelope(w, http.StatusUnauthorized, map[string]any{"message": "Invalid password."})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"username": body["username"],
			"token":    "acct-token",
			"jwt":      "session-token",
			"status":   map[string]any{"current": "offline"},
		}})
	})
	mux.HandleFunc("POST /accounts/jwt/validate", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{"username": "x"}})
	})
	mux.HandleFunc("POST /accounts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.statusMu.Lock()
		f.statusUpdates = append(f.statusUpdates, body)
		f.statusMu.Unlock()
		f.statusCh <- struct{}{}
		writeEnvelope(w, http.StatusOK, nil)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeEnvelope(w http.ResponseWriter, code int, extra map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	out := map[string]any{"statusCode": code}
	for k, v := range extra {
		out[k] = v
	}
	_ = json.NewEncoder(w).Encode(out)
}

func newTestGateway(t *testing.T, api *fakeAPI) (*Gateway, *websocket.Conn) {
	t.Helper()
	cfg := &config.Config{GatewayAddr: ":0", MasterKey: "master"}
	g := NewGateway(cfg, NewAPIClient(api.srv.URL, "master"), bus.NoopPublisher{}, metrics.Noop{})

	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return g, conn
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func identify(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	send(t, conn, map[string]any{
		"op":    OpIdentify,
		"nonce": "id-1",
		"d":     map[string]any{"username": "yuki", "password": "hunter2"},
	})
	return read(t, conn)
}

func TestIdentifyBindsPrincipal(t *testing.T) {
	api := newFakeAPI(t)
	g, conn := newTestGateway(t, api)

	reply := identify(t, conn)
	if reply.Op != OpIdentify {
		t.Fatalf("expected identify reply, got %s", reply.Op)
	}
	if reply.Nonce != "id-1" {
		t.Fatalf("nonce not echoed: %q", reply.Nonce)
	}

	var data struct {
		User Principal `json:"user"`
	}
	if err := json.Unmarshal(reply.D, &data); err != nil {
		t.Fatalf("decode identify payload: %v", err)
	}
	if data.User.Username != "yuki" || data.User.JWT != "session-token" {
		t.Fatalf("unexpected principal: %+v", data.User)
	}

	if g.ConnectionCount() != 1 {
		t.Fatalf("expected 1 tracked connection, got %d", g.ConnectionCount())
	}
}

func TestIdentifyBadCredentials(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)

	send(t, conn, map[string]any{
		"op":    OpIdentify,
		"nonce": "id-2",
		"d":     map[string]any{"username": "yuki", "password": "wrong"},
	})
	reply := read(t, conn)
	if reply.Op != OpError {
		t.Fatalf("expected error reply, got %s", reply.Op)
	}
	if reply.Nonce != "id-2" {
		t.Fatalf("nonce not echoed: %q", reply.Nonce)
	}
}

func TestNoIdentifyClosesWith1003(t *testing.T) {
	api := newFakeAPI(t)
	cfg := &config.Config{GatewayAddr: ":0"}
	g := NewGateway(cfg, NewAPIClient(api.srv.URL, "master"), nil, nil)
	g.identifyGrace = 50 * time.Millisecond

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseNoIdentify) {
		t.Fatalf("expected close %d, got %v", CloseNoIdentify, err)
	}
}

func TestNoHeartbeatClosesWith1002(t *testing.T) {
	api := newFakeAPI(t)
	cfg := &config.Config{GatewayAddr: ":0"}
	g := NewGateway(cfg, NewAPIClient(api.srv.URL, "master"), nil, nil)
	g.heartbeatTimeout = 100 * time.Millisecond

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()

	identify(t, conn)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseNoHeartbeat) {
		t.Fatalf("expected close %d, got %v", CloseNoHeartbeat, err)
	}
}

func TestHeartbeatEchoesNonce(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)

	send(t, conn, map[string]any{"op": OpHeartbeat, "nonce": "hb-7"})
	reply := read(t, conn)
	if reply.Op != OpHeartbeat || reply.Nonce != "hb-7" {
		t.Fatalf("unexpected heartbeat reply: %+v", reply)
	}
}

func TestUnparsableMessageGetsFreshNonce(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := read(t, conn)
	if reply.Op != OpError {
		t.Fatalf("expected error reply, got %s", reply.Op)
	}
	if reply.Nonce == "" {
		t.Fatal("error reply should carry a synthesized nonce")
	}
}

func TestMissingOpcode(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)

	send(t, conn, map[string]any{"nonce": "n-1", "d": map[string]any{}})
	reply := read(t, conn)
	if reply.Op != OpError || reply.Nonce != "n-1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestUnknownOpcode(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)

	send(t, conn, map[string]any{"op": "dance", "nonce": "u-1"})
	reply := read(t, conn)
	if reply.Op != OpError || reply.Nonce != "u-1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	var data struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(reply.D, &data); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if data.Message != "Unknown OPCode: dance" {
		t.Fatalf("unexpected message: %q", data.Message)
	}
}

func TestStatusRequiresIdentify(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)

	send(t, conn, map[string]any{"op": OpStatus, "nonce": "s-0", "d": map[string]any{"status": "online"}})
	reply := read(t, conn)
	if reply.Op != OpError {
		t.Fatalf("expected error for unidentified status, got %s", reply.Op)
	}
}

func TestStatusValidation(t *testing.T) {
	api := newFakeAPI(t)
	_, conn := newTestGateway(t, api)
	identify(t, conn)

	send(t, conn, map[string]any{"op": OpStatus, "nonce": "s-1", "d": map[string]any{"status": "away"}})
	if reply := read(t, conn); reply.Op != OpError {
		t.Fatalf("expected error for invalid enum, got %s", reply.Op)
	}

	send(t, conn, map[string]any{"op": OpStatus, "nonce": "s-2", "d": map[string]any{"status": "listening"}})
	if reply := read(t, conn); reply.Op != OpError {
		t.Fatalf("expected error for listening without song, got %s", reply.Op)
	}

	send(t, conn, map[string]any{"op": OpStatus, "nonce": "s-3",
		"d": map[string]any{"status": "listening", "song": "rainy night"}})
	reply := read(t, conn)
	if reply.Op != OpStatus || reply.Nonce != "s-3" {
		t.Fatalf("unexpected status reply: %+v", reply)
	}

	select {
	case <-api.statusCh:
	case <-time.After(2 * time.Second):
		t.Fatal("status update never reached the API")
	}
}

// captureMetrics records close-code labels for assertions.
type captureMetrics struct {
	mu     sync.Mutex
	closes []string
}

func (c *captureMetrics) ConnectionOpened() {}
func (c *captureMetrics) ConnectionClosed(code string) {
	c.mu.Lock()
	c.closes = append(c.closes, code)
	c.mu.Unlock()
}
func (c *captureMetrics) IncMessage(string) {}

func TestCloseCodeReachesMetrics(t *testing.T) {
	api := newFakeAPI(t)
	captured := &captureMetrics{}
	cfg := &config.Config{GatewayAddr: ":0"}
	g := NewGateway(cfg, NewAPIClient(api.srv.URL, "master"), nil, captured)
	g.heartbeatTimeout = 100 * time.Millisecond

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err = conn.ReadMessage(); !websocket.IsCloseError(err, CloseNoHeartbeat) {
		t.Fatalf("expected close %d, got %v", CloseNoHeartbeat, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		captured.mu.Lock()
		closes := append([]string(nil), captured.closes...)
		captured.mu.Unlock()
		if len(closes) > 0 {
			if closes[0] != "1002" {
				t.Fatalf("expected close code 1002, got %v", closes)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("close never reached the metrics sink")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOfflinePresenceOnClose(t *testing.T) {
	api := newFakeAPI(t)
	g, conn := newTestGateway(t, api)
	identify(t, conn)

	conn.Close()

	select {
	case <-api.statusCh:
	case <-time.After(2 * time.Second):
		t.Fatal("offline presence update never reached the API")
	}

	api.statusMu.Lock()
	last := api.statusUpdates[len(api.statusUpdates)-1]
	api.statusMu.Unlock()
	raw, _ := json.Marshal(last)
	if !strings.Contains(string(raw), `"offline"`) {
		t.Fatalf("expected offline presence update, got %s", raw)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never removed from the active set")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
