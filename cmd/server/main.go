package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardliu001/name-pipeline/internal/channel"
	"github.com/richardliu001/name-pipeline/internal/config"
	"github.com/richardliu001/name-pipeline/internal/logger"
	"github.com/richardliu001/name-pipeline/internal/metrics"
	"github.com/richardliu001/name-pipeline/internal/repo"
	"github.com/richardliu001/name-pipeline/internal/service"
	httptransport "github.com/richardliu001/name-pipeline/internal/transport/http"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "internal/config/config.yaml"
}

func main() {
	// 1. load config
	cfg, err := config.Load(configPath())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	repository, err := repo.Open(cfg.Postgres.DSN, log)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer repository.Close()

	// 4. message channel; setup failure aborts startup
	ch, err := channel.Open(ctx, cfg.Channel, log)
	if err != nil {
		log.Fatalf("open channel: %v", err)
	}
	defer ch.Close()
	if err := channel.Setup(ctx, ch, cfg.Channel); err != nil {
		log.Fatalf("channel setup: %v", err)
	}

	// 5. services
	m := metrics.New("name_pipeline")
	ingest := service.NewIngestService(repository, ch, m, log)
	query := service.NewQueryService(repository, log)
	consumer := service.NewDerivationService(repository, ch, m, log)

	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(ctx) }()

	// 6. gin router
	router := httptransport.NewRouter(httptransport.Deps{Ingest: ingest, Query: query, Metrics: m, Breaker: ch}, cfg, log)

	// 7. serve
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		log.Infof("name-pipeline listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("listen: %v", err)
			stop()
		}
	}()

	consumerRunning := true
	select {
	case <-ctx.Done():
	case err := <-consumerDone:
		consumerRunning = false
		log.Errorf("consumer stopped: %v", err)
		stop()
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}

	if consumerRunning && !awaitConsumer(shutdownCtx, consumerDone) {
		log.Warn("consumer did not stop before shutdown timeout")
	}
}

// awaitConsumer blocks until the consumer has returned, so the in-flight
// message finishes before the pool and channel close. False means ctx ran out.
func awaitConsumer(ctx context.Context, done <-chan error) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
