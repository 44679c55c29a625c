package httpapi

import (
	"net/http"
	"testing"
)

func TestMasterKeyCheckedBeforeStructuralValidation(t *testing.T) {
	s := newTestServer(t)

	// No credential and an empty body: the missing header must win, proving
	// structural requirements are not leaked to unauthenticated callers.
	code, env := doRequest(t, s, http.MethodPost, "/accounts/login", nil, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if env.Message != `Missing "Authorization" header in the request.` {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestInvalidMasterKey(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/accounts/login",
		map[string]string{"Authorization": "wrong"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if env.Message != "Invalid master key used." {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestJWTSchemeMismatch(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/accounts",
		map[string]string{"Authorization": "Token abc"},
		map[string]any{"data": map[string]any{}})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if env.Message != `JWT token doesn't start with "Bearer"` {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestJWTTamperedToken(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/accounts",
		map[string]string{"Authorization": "Bearer not.a.token"},
		map[string]any{"data": map[string]any{}})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if env.Message != "Token is invalid." {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestAccountSchemeMismatch(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/accounts/jwt",
		map[string]string{"Authorization": "Bearer abc"}, nil)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if env.Message != `Account token doesn't start with "Account"` {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestAccountTokenMiss(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPost, "/accounts/jwt",
		map[string]string{"Authorization": "Account no-such-token"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if env.Message != "Authentication token was invalid" {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestMissingBodyFieldsAllListed(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodPut, "/accounts",
		map[string]string{"Authorization": testMasterKey},
		map[string]any{"username": "a"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if env.Message != "Missing required body payload: password, email" {
		t.Fatalf("expected every missing field listed, got: %s", env.Message)
	}
}

func TestMissingQueryListed(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodGet, "/accounts", nil, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if env.Message != "Missing required queries: username" {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestBodyShapeValidation(t *testing.T) {
	s := newTestServer(t)
	profile := createTestAccount(t, s, "shapecheck")

	code, env := doRequest(t, s, http.MethodPost, "/accounts",
		map[string]string{"Authorization": "Bearer " + profile["jwt"].(string)},
		map[string]any{"data": "not-an-object"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if env.Message != "Body fields with invalid shape: data" {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestHandlerPanicBecomesGenericInternalError(t *testing.T) {
	s := newTestServer(t)
	route := &Route{
		Verb: http.MethodGet,
		Path: "/boom",
		Handler: func(_ *Env, _ *Call) *Reply {
			panic("secret internal detail")
		},
	}
	reply := s.invoke(route, &Call{Request: httptestRequest()})
	if reply.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", reply.StatusCode)
	}
	if reply.Message != "Unable to fulfill your request" {
		t.Fatalf("panic detail leaked: %s", reply.Message)
	}
}

func TestRequestCounterIncrementsOncePerDispatch(t *testing.T) {
	s := newTestServer(t)

	before := s.Env().Requests.Load()
	doRequest(t, s, http.MethodGet, "/", nil, nil)
	doRequest(t, s, http.MethodPost, "/accounts/login", nil, nil) // rejected call still counts
	if got := s.Env().Requests.Load(); got != before+2 {
		t.Fatalf("expected counter %d, got %d", before+2, got)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	code, env := doRequest(t, s, http.MethodGet, "/definitely/not/here", nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if env.Message != "Route GET /definitely/not/here was not found. Are you lost?" {
		t.Fatalf("unexpected message: %s", env.Message)
	}
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptestRequestWithBody(http.MethodPut, "/accounts", "{not json")
	req.Header.Set("Authorization", testMasterKey)
	rec := newRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for malformed body, got %d", rec.Code)
	}
}
