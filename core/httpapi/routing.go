package httpapi

import (
	"strings"

	"github.com/kashima-app/kashima/core/infra/logging"
)

// AuthType selects which credential scheme the dispatch pipeline enforces for
// a route.
type AuthType int

const (
	// AuthNone performs no credential check.
	AuthNone AuthType = iota
	// AuthJWT requires a "Bearer <token>" header decoded by the token codec.
	AuthJWT
	// AuthAccount requires an "Account <token>" header resolved against the
	// store.
	AuthAccount
)

// Shape declares the expected JSON shape of a required body field.
type Shape int

const (
	// ShapeScalar accepts strings, numbers and booleans.
	ShapeScalar Shape = iota
	// ShapeObject requires a JSON object.
	ShapeObject
)

// Field names one required input of a route. Queries and path parameters are
// always strings; body fields carry an expected shape.
type Field struct {
	Name     string
	Required bool
	Shape    Shape
}

// Requirements is a route's declarative policy, read-only at dispatch time.
// Optional short-circuits the master-key and auth checks entirely.
type Requirements struct {
	Queries     []Field
	Params      []Field
	Body        []Field
	AuthType    AuthType
	RequireAuth bool
	MasterKey   bool
	Optional    bool
}

// Route binds a verb and path fragment to a handler and its requirements.
// The effective path is computed at registration time and never mutated.
type Route struct {
	Verb         string
	Path         string
	Requirements Requirements
	Handler      HandlerFunc

	effectivePath string
}

// EffectivePath is the full path after the router's base has been applied.
func (r *Route) EffectivePath() string {
	return r.effectivePath
}

// Router groups routes under a shared base path.
type Router struct {
	Base   string
	Routes []*Route
}

// Registry holds every registered route keyed by verb plus effective path.
// Lookup is by exact key; there is no pattern priority.
type Registry struct {
	routes map[string]*Route
	order  []*Route
}

func NewRegistry() *Registry {
	return &Registry{routes: map[string]*Route{}}
}

// Register computes each route's effective path and adds it to the table. An
// invalid router (nil, or a base path not rooted at "/") is skipped with a
// warning rather than failing startup.
func (reg *Registry) Register(router *Router) {
	if router == nil || !strings.HasPrefix(router.Base, "/") {
		logging.Warn("http", "skipping invalid router", "base", routerBase(router))
		return
	}
	for _, route := range router.Routes {
		route.effectivePath = JoinPath(router.Base, route.Path)
		key := routeKey(route.Verb, route.effectivePath)
		if _, dup := reg.routes[key]; dup {
			logging.Warn("http", "duplicate route ignored", "verb", route.Verb, "path", route.effectivePath)
			continue
		}
		reg.routes[key] = route
		reg.order = append(reg.order, route)
	}
}

// Lookup returns the route registered under the exact verb+path key.
func (reg *Registry) Lookup(verb, path string) (*Route, bool) {
	route, ok := reg.routes[routeKey(verb, path)]
	return route, ok
}

// All returns routes in registration order.
func (reg *Registry) All() []*Route {
	return reg.order
}

// JoinPath concatenates a router base with a route fragment. A "/" fragment
// collapses to the base, a root base collapses to the fragment, and non-root
// bases concatenate literally.
func JoinPath(base, sub string) string {
	if sub == "/" {
		return base
	}
	if base == "/" {
		return sub
	}
	return base + sub
}

// muxPattern rewrites ":name" path segments into the "{name}" wildcards the
// HTTP mux understands.
func muxPattern(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			segments[i] = "{" + seg[1:] + "}"
		}
	}
	return strings.Join(segments, "/")
}

func routeKey(verb, path string) string {
	return strings.ToUpper(verb) + " " + path
}

func routerBase(router *Router) string {
	if router == nil {
		return "<nil>"
	}
	return router.Base
}
