package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etm-sa/landylocal/core/capability"
	"github.com/etm-sa/landylocal/core/infra/buildinfo"
	"github.com/etm-sa/landylocal/core/infra/bus"
	"github.com/etm-sa/landylocal/core/infra/config"
	"github.com/etm-sa/landylocal/core/infra/memory"
	infraMetrics "github.com/etm-sa/landylocal/core/infra/metrics"
	"github.com/etm-sa/landylocal/core/pipeline"
)

func main() {
	log.Println("landy pipeline worker starting...")
	buildinfo.Log("landy-pipeline-worker")

	cfg := config.Load()

	metrics := infraMetrics.NewProm("landy_worker")
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
		log.Printf("worker metrics on %s/metrics", cfg.MetricsAddr)
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

	generator, err := capability.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("failed to build content generator: %v", err)
	}
	searcher, err := capability.NewTavilyClient(cfg.TavilyAPIKey, cfg.TavilyURL)
	if err != nil {
		log.Fatalf("failed to build search client: %v", err)
	}

	markets, err := config.LoadMarkets(cfg.MarketsConfigPath)
	if err != nil {
		log.Fatalf("failed to load markets config (%s): %v", cfg.MarketsConfigPath, err)
	}

	driver, err := pipeline.NewDriver(pipeline.DriverOptions{
		Store:    jobStore,
		Events:   natsBus,
		Queue:    natsBus,
		Gen:      generator,
		Search:   searcher,
		Markets:  markets,
		Metrics:  metrics,
		Failures: failureLog,
	})
	if err != nil {
		log.Fatalf("failed to build pipeline driver: %v", err)
	}

	pool, err := pipeline.NewWorkerPool(driver, natsBus, cfg.WorkerCount, cfg.StageTimeout)
	if err != nil {
		log.Fatalf("failed to build worker pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pool.Run(ctx); err != nil {
			log.Fatalf("worker pool stopped: %v", err)
		}
	}()

	reconciler := pipeline.NewReconciler(jobStore, natsBus, cfg.ReconcileInterval, cfg.StaleJobAfter)
	go reconciler.Run(ctx)

	log.Printf("worker running with %d slots. waiting for signals...", cfg.WorkerCount)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("worker shutting down")
	cancel()
}
