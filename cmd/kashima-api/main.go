package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kashima-app/kashima/core/httpapi"
	"github.com/kashima-app/kashima/core/infra/buildinfo"
	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/logging"
	"github.com/kashima-app/kashima/core/infra/metrics"
	"github.com/kashima-app/kashima/core/store"
)

func main() {
	log.Println("kashima api starting...")
	buildinfo.Log("kashima-api")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	st, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	srv := httpapi.NewServer(cfg, st, metrics.NewAPIProm("kashima_api"))

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn("api", "metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("api error: %v", err)
		}
	case <-ctx.Done():
		logging.Info("api", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}
