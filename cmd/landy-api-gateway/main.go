package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etm-sa/landylocal/core/controlplane/gateway"
	"github.com/etm-sa/landylocal/core/infra/buildinfo"
	"github.com/etm-sa/landylocal/core/infra/bus"
	"github.com/etm-sa/landylocal/core/infra/config"
	"github.com/etm-sa/landylocal/core/infra/memory"
	infraMetrics "github.com/etm-sa/landylocal/core/infra/metrics"
)

// busEvents adapts the NATS bus to the gateway's event source.
type busEvents struct {
	bus *bus.Bus
}

func (e busEvents) SubscribeEvents(jobID string) (gateway.EventStream, error) {
	return e.bus.SubscribeEvents(jobID)
}

func main() {
	log.Println("landy api gateway starting...")
	buildinfo.Log("landy-api-gateway")

	cfg := config.Load()
	if cfg.IdentitySecret == "" {
		log.Fatal("IDENTITY_JWT_SECRET is required")
	}
	if cfg.StreamTokenSecret == "" {
		log.Fatal("STREAM_TOKEN_SECRET is required")
	}

	metrics := infraMetrics.NewGatewayProm("landy_gateway")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", infraMetrics.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("gateway metrics on %s/metrics", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	jobStore, err := memory.NewRedisJobStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for job store: %v", err)
	}
	defer jobStore.Close()

	failureLog, err := memory.NewFailureLog(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for failure log: %v", err)
	}
	defer failureLog.Close()

	natsBus, err := bus.New(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	verifier, err := gateway.NewHS256Verifier(cfg.IdentitySecret)
	if err != nil {
		log.Fatalf("failed to build identity verifier: %v", err)
	}
	tokens, err := gateway.NewStreamTokenIssuer(cfg.StreamTokenSecret, cfg.StreamTokenTTL)
	if err != nil {
		log.Fatalf("failed to build stream token issuer: %v", err)
	}

	srv, err := gateway.NewServer(gateway.Options{
		Store:          jobStore,
		Queue:          natsBus,
		Events:         busEvents{bus: natsBus},
		Verifier:       verifier,
		Tokens:         tokens,
		Failures:       failureLog,
		BusInfo:        natsBus,
		Metrics:        metrics,
		AllowedOrigins: cfg.CORSAllowOrigins,
	})
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	go func() {
		if err := srv.Start(cfg.HTTPAddr); err != nil {
			log.Fatalf("gateway stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("gateway shutting down")
}
