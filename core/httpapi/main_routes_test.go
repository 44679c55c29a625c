package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestWelcome(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodGet, "/", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if env.Message == "" {
		t.Fatal("welcome message missing")
	}
}

func TestVersion(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodGet, "/version", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	versions := map[string]string{}
	if err := json.Unmarshal(env.Data, &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if versions["linux"] == "" {
		t.Fatal("missing platform version")
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	createTestAccount(t, s, "counted")

	code, env := doRequest(t, s, http.MethodGet, "/stats", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	stats := map[string]any{}
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["accounts"].(float64) != 1 {
		t.Fatalf("expected 1 account, got %v", stats["accounts"])
	}
	if stats["version"] != Version {
		t.Fatalf("unexpected version: %v", stats["version"])
	}
	// the stats call itself has been counted by the time the handler ran
	if stats["requests"].(float64) < 2 {
		t.Fatalf("request counter too low: %v", stats["requests"])
	}
}
