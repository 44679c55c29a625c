package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/kashima-app/kashima/core/auth"
	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/logging"
	"github.com/kashima-app/kashima/core/store"
)

// Env is the shared service context handed to every handler: the store
// handle, configuration, token codec and the per-process request counter.
// Handlers receive it explicitly instead of closing over server state.
type Env struct {
	Store    store.Store
	Config   *config.Config
	Codec    *auth.Codec
	Requests atomic.Uint64
}

// HandlerFunc is the signature every route handler implements.
type HandlerFunc func(env *Env, c *Call) *Reply

// Call is the normalized view of one inbound request.
type Call struct {
	Request *http.Request
	Body    map[string]any
}

// Query returns the named query value, "" when absent.
func (c *Call) Query(name string) string {
	return c.Request.URL.Query().Get(name)
}

// Param returns the named path parameter, "" when absent.
func (c *Call) Param(name string) string {
	return c.Request.PathValue(name)
}

// AuthHeader returns the raw Authorization header.
func (c *Call) AuthHeader() string {
	return c.Request.Header.Get("Authorization")
}

// BearerToken returns the token portion of a "Bearer <token>" header, "" when
// the header is absent or carries a different scheme.
func (c *Call) BearerToken() string {
	header := c.AuthHeader()
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// AccountToken returns the token portion of an "Account <token>" header.
func (c *Call) AccountToken() string {
	header := c.AuthHeader()
	if !strings.HasPrefix(header, "Account ") {
		return ""
	}
	return strings.TrimPrefix(header, "Account ")
}

// BodyString returns a string body field, "" when absent or not a string.
func (c *Call) BodyString(name string) string {
	s, _ := c.Body[name].(string)
	return s
}

// BodyObject returns an object body field, nil when absent or not an object.
func (c *Call) BodyObject(name string) map[string]any {
	m, _ := c.Body[name].(map[string]any)
	return m
}

// dispatch wraps a route's handler in the request pipeline. The pipeline runs
// the checks in strict order, each a short-circuit exit: optionality gate,
// master-key check, auth check, structural validation, then handler
// invocation. Auth runs before structural validation so unauthenticated
// callers cannot probe which fields a protected route expects.
func (s *Server) dispatch(route *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.env.Requests.Add(1)

		req := route.Requirements
		if !req.Optional {
			if req.MasterKey {
				if reply := s.checkMasterKey(r); reply != nil {
					writeReply(w, reply)
					return
				}
			}
			if req.RequireAuth {
				if reply := s.checkAuth(r, req.AuthType); reply != nil {
					writeReply(w, reply)
					return
				}
			}
		}

		call := &Call{Request: r}
		if len(req.Body) > 0 || r.ContentLength > 0 {
			body, err := parseBody(r)
			if err != nil {
				logging.Error("http", "failed to parse request body",
					"verb", r.Method, "path", route.EffectivePath(), "error", err)
				writeReply(w, Err(http.StatusInternalServerError, "Unable to parse request body."))
				return
			}
			call.Body = body
		}

		if reply := validateStructure(call, req); reply != nil {
			writeReply(w, reply)
			return
		}

		writeReply(w, s.invoke(route, call))
	}
}

func (s *Server) checkMasterKey(r *http.Request) *Reply {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Err(http.StatusUnauthorized, `Missing "Authorization" header in the request.`)
	}
	if header != s.env.Config.MasterKey {
		return Err(http.StatusUnauthorized, "Invalid master key used.")
	}
	return nil
}

func (s *Server) checkAuth(r *http.Request, authType AuthType) *Reply {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Err(http.StatusUnauthorized, `Missing "Authorization" header in the request.`)
	}
	switch authType {
	case AuthJWT:
		if !strings.HasPrefix(header, "Bearer ") {
			return Err(http.StatusForbidden, `JWT token doesn't start with "Bearer"`)
		}
		result := s.env.Codec.Decode(strings.TrimPrefix(header, "Bearer "))
		if result.Kind != auth.ErrNone {
			return Err(http.StatusForbidden, result.Message)
		}
	case AuthAccount:
		if !strings.HasPrefix(header, "Account ") {
			return Err(http.StatusForbidden, `Account token doesn't start with "Account"`)
		}
		token := strings.TrimPrefix(header, "Account ")
		if _, err := s.env.Store.GetAccountByToken(r.Context(), token); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Err(http.StatusUnauthorized, "Authentication token was invalid")
			}
			logging.Error("http", "account token lookup failed", "error", err)
			return Err(http.StatusInternalServerError, "Unable to fulfill your request")
		}
	}
	return nil
}

// validateStructure verifies every declared required query, path parameter
// and body field. Each failure lists all missing names of its kind, not just
// the first.
func validateStructure(c *Call, req Requirements) *Reply {
	if missing := missingFields(req.Queries, func(name string) bool {
		return c.Query(name) != ""
	}); len(missing) > 0 {
		return Err(http.StatusBadRequest, "Missing required queries: "+strings.Join(missing, ", "))
	}

	if missing := missingFields(req.Params, func(name string) bool {
		return c.Param(name) != ""
	}); len(missing) > 0 {
		return Err(http.StatusBadRequest, "Missing required parameters: "+strings.Join(missing, ", "))
	}

	if missing := missingFields(req.Body, func(name string) bool {
		val, ok := c.Body[name]
		if !ok || val == nil {
			return false
		}
		if s, isString := val.(string); isString && s == "" {
			return false
		}
		return true
	}); len(missing) > 0 {
		return Err(http.StatusBadRequest, "Missing required body payload: "+strings.Join(missing, ", "))
	}

	var badShape []string
	for _, field := range req.Body {
		val, ok := c.Body[field.Name]
		if !ok || val == nil {
			continue
		}
		if !shapeMatches(field.Shape, val) {
			badShape = append(badShape, field.Name)
		}
	}
	if len(badShape) > 0 {
		return Err(http.StatusBadRequest, "Body fields with invalid shape: "+strings.Join(badShape, ", "))
	}
	return nil
}

func missingFields(fields []Field, present func(name string) bool) []string {
	var missing []string
	for _, field := range fields {
		if field.Required && !present(field.Name) {
			missing = append(missing, field.Name)
		}
	}
	return missing
}

func shapeMatches(shape Shape, val any) bool {
	_, isObject := val.(map[string]any)
	if shape == ShapeObject {
		return isObject
	}
	return !isObject
}

// invoke runs the handler and converts any panic into a generic internal
// failure; handler errors never propagate to the transport layer and internal
// detail stays in the logs.
func (s *Server) invoke(route *Route, c *Call) (reply *Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("http", "handler panicked",
				"verb", route.Verb, "path", route.EffectivePath(), "panic", rec)
			reply = Err(http.StatusInternalServerError, "Unable to fulfill your request")
		}
	}()
	reply = route.Handler(s.env, c)
	if reply == nil {
		reply = Status(http.StatusOK)
	}
	return reply
}

func parseBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}
