package httpapi

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kashima-app/kashima/core/auth"
	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/logging"
	"github.com/kashima-app/kashima/core/infra/metrics"
	"github.com/kashima-app/kashima/core/store"
)

// Version is the API release version reported by /stats.
const Version = "v0.9.0"

// Server is the long-lived REST API service. Routes are registered once at
// construction; the registry is read-only afterwards.
type Server struct {
	env      *Env
	registry *Registry
	metrics  metrics.APIMetrics
	httpSrv  *http.Server
}

// NewServer wires the route table against the given store and config.
func NewServer(cfg *config.Config, st store.Store, m metrics.APIMetrics) *Server {
	if m == nil {
		m = metrics.Noop{}
	}
	s := &Server{
		env: &Env{
			Store:  st,
			Config: cfg,
			Codec:  auth.NewCodec(cfg.Secret),
		},
		registry: NewRegistry(),
		metrics:  m,
	}

	s.registry.Register(mainRouter())
	s.registry.Register(accountsRouter())
	s.registry.Register(newsRouter())
	s.registry.Register(themesRouter())

	mux := http.NewServeMux()
	for _, route := range s.registry.All() {
		path := muxPattern(route.EffectivePath())
		if path == "/" {
			// bare "/" is a subtree root in mux patterns and would swallow
			// every unmatched path
			path = "/{$}"
		}
		mux.HandleFunc(strings.ToUpper(route.Verb)+" "+path, s.instrumented(route.EffectivePath(), s.dispatch(route)))
	}
	mux.HandleFunc("/", s.notFound)

	s.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Env exposes the shared service context, mainly for tests.
func (s *Server) Env() *Env {
	return s.env
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Info("http", "api listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	logging.Warn("http", "route not found", "verb", r.Method, "path", r.URL.Path)
	writeReply(w, Err(http.StatusNotFound,
		fmt.Sprintf("Route %s %s was not found. Are you lost?", strings.ToUpper(r.Method), r.URL.Path)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

// gravatarURL resolves an avatar from a gravatar-linked email.
func gravatarURL(email string) string {
	hash := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "https://secure.gravatar.com/avatar/" + hex.EncodeToString(hash[:])
}

// avatarFor prefers the gravatar connection over the stored avatar URL.
func avatarFor(acct *store.Account) string {
	if acct.Connections.Gravatar != "" {
		return gravatarURL(acct.Connections.Gravatar)
	}
	return acct.AvatarURL
}
