package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kashima-app/kashima/core/gateway"
	"github.com/kashima-app/kashima/core/infra/buildinfo"
	"github.com/kashima-app/kashima/core/infra/bus"
	"github.com/kashima-app/kashima/core/infra/config"
	"github.com/kashima-app/kashima/core/infra/logging"
	"github.com/kashima-app/kashima/core/infra/metrics"
)

func main() {
	log.Println("kashima gateway starting...")
	buildinfo.Log("kashima-gateway")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	var publisher bus.Publisher = bus.NoopPublisher{}
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			log.Fatalf("bus error: %v", err)
		}
		defer natsBus.Close()
		publisher = natsBus
	}

	api := gateway.NewAPIClient(cfg.APIBaseURL, cfg.MasterKey)
	gw := gateway.NewGateway(cfg, api, publisher, metrics.NewGatewayProm("kashima_gateway"))

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn("gateway", "metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("gateway error: %v", err)
		}
	case <-ctx.Done():
		logging.Info("gateway", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = gw.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}
