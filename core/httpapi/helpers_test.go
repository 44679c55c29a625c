package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/metrics"
	"github.com/kashima-app/kashima/core/store"
)

const testMasterKey = "test-master-key"

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	st, err := store.NewRedisStore("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Environment: "development",
		MasterKey:   testMasterKey,
		Secret:      "test-signing-secret",
		CDNBaseURL:  "https://cdn.kashima.app",
	}
	return NewServer(cfg, st, metrics.Noop{})
}

func doRequest(t *testing.T, s *Server, method, path string, headers map[string]string, body any) (int, envelope) {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	for key, val := range headers {
		req.Header.Set(key, val)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v (%s)", err, rec.Body.String())
	}
	if env.StatusCode != rec.Code {
		t.Fatalf("envelope statusCode %d disagrees with HTTP status %d", env.StatusCode, rec.Code)
	}
	return rec.Code, env
}

// createTestAccount provisions an account over the API and returns its
// privileged profile.
func createTestAccount(t *testing.T, s *Server, username string) map[string]any {
	t.Helper()
	code, env := doRequest(t, s, http.MethodPut, "/accounts",
		map[string]string{"Authorization": testMasterKey},
		map[string]any{"username": username, "password": "hunter2", "email": username + "@example.com"})
	if code != http.StatusOK {
		t.Fatalf("account creation failed: %d %s", code, env.Message)
	}
	profile := map[string]any{}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	return profile
}

func httptestRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/boom", nil)
}

func httptestRequestWithBody(method, path, body string) *http.Request {
	return httptest.NewRequest(method, path, bytes.NewBufferString(body))
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

func grantCapabilities(t *testing.T, s *Server, username string, allowed int) {
	t.Helper()
	err := s.Env().Store.UpdateAccount(context.Background(), username, "set", map[string]any{
		"permissions": map[string]any{"allowed": allowed, "denied": 0},
	})
	if err != nil {
		t.Fatalf("grant capabilities: %v", err)
	}
}
