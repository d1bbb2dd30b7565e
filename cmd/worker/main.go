// Package main is the entry point for the siphon background worker.
// It runs the reconciliation job and the stock cache audit on timers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appctx "siphon/internal/core/context"
	"siphon/internal/domain/channel"
	"siphon/internal/domain/ledger"
	"siphon/internal/infrastructure/storage/postgres"
	"siphon/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithLogger(ctx, log)
	ctx = appctx.WithActor(ctx, appctx.SystemActor)

	log.Info("starting siphon worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)

	ledgerRepo := postgres.NewLedgerRepo(txManager)
	mappingRepo := postgres.NewMappingRepo(txManager)
	eventRepo := postgres.NewEventRepo(txManager)

	ledgerSvc := ledger.NewService(ledgerRepo, txManager)
	reconciler := channel.NewReconciler(eventRepo, mappingRepo, ledgerSvc, txManager)

	worker := &Worker{
		reconciler:        reconciler,
		ledger:            ledgerSvc,
		log:               log.WithComponent("worker"),
		reconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		auditInterval:     getEnvDuration("AUDIT_INTERVAL", time.Hour),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker drives the periodic jobs.
type Worker struct {
	reconciler        *channel.Reconciler
	ledger            *ledger.Service
	log               *logger.Logger
	reconcileInterval time.Duration
	auditInterval     time.Duration
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	reconcileTicker := time.NewTicker(w.reconcileInterval)
	defer reconcileTicker.Stop()

	auditTicker := time.NewTicker(w.auditInterval)
	defer auditTicker.Stop()

	// One pass at startup so a backlog left by downtime drains immediately.
	w.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcileTicker.C:
			w.reconcile(ctx)
		case <-auditTicker.C:
			w.audit(ctx)
		}
	}
}

func (w *Worker) reconcile(ctx context.Context) {
	report, err := w.reconciler.Run(ctx)
	if err != nil {
		w.log.Errorw("reconciliation run failed", "error", err)
		return
	}

	if report.MatchedCount > 0 || report.AppliedCount > 0 || report.ErrorCount > 0 {
		w.log.Infow("reconciliation run",
			"matched", report.MatchedCount,
			"applied", report.AppliedCount,
			"skipped", report.SkippedCount,
			"errored", report.ErrorCount,
		)
	}
}

func (w *Worker) audit(ctx context.Context) {
	results, err := w.ledger.Audit(ctx)
	if err != nil {
		w.log.Errorw("stock audit failed", "error", err)
		return
	}

	drifted := 0
	for _, r := range results {
		if r.Drift {
			drifted++
		}
	}

	w.log.Infow("stock audit complete",
		"products", len(results),
		"drifted", drifted,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
