// Package main is the entry point for the siphon API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"siphon/internal/domain/channel"
	"siphon/internal/domain/checkout"
	"siphon/internal/domain/ledger"
	"siphon/internal/domain/product"
	"siphon/internal/domain/production"
	v1 "siphon/internal/infrastructure/http/v1"
	"siphon/internal/infrastructure/payment"
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

	ctx := logger.WithLogger(context.Background(), log)
	log.Info("starting siphon server")

	// --- Database ---
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}
	log.Info("database ready")

	txManager := postgres.NewTxManager(pool)

	// --- Repositories ---
	ledgerRepo := postgres.NewLedgerRepo(txManager)
	productRepo := postgres.NewProductRepo(txManager)
	productionRepo := postgres.NewProductionRepo(txManager)
	mappingRepo := postgres.NewMappingRepo(txManager)
	eventRepo := postgres.NewEventRepo(txManager)
	orderRepo := postgres.NewCheckoutRepo(txManager)

	// --- Services ---
	ledgerSvc := ledger.NewService(ledgerRepo, txManager)
	productSvc := product.NewService(productRepo)
	productionSvc := production.NewService(productionRepo, productRepo, ledgerSvc, txManager)
	mappingSvc := channel.NewMappingService(mappingRepo)
	intakeSvc := channel.NewIntakeService(eventRepo, mappingRepo)
	reconciler := channel.NewReconciler(eventRepo, mappingRepo, ledgerSvc, txManager)

	tokenCache := checkout.NewTokenCache(
		getEnvDuration("CHECKOUT_TOKEN_TTL", 10*time.Minute),
		getEnvInt("CHECKOUT_TOKEN_CACHE_SIZE", 10000),
	)
	tokenCache.StartSweeper(ctx, time.Minute)

	checkoutSvc := checkout.NewService(
		orderRepo,
		ledgerSvc,
		payment.NewClientFromEnv(),
		tokenCache,
		txManager,
		getEnvDuration("CHECKOUT_DUP_WINDOW", 10*time.Second),
	)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:       pool,
		Logger:     log,
		Ledger:     ledgerSvc,
		Products:   productSvc,
		Production: productionSvc,
		Mappings:   mappingSvc,
		Intake:     intakeSvc,
		Reconciler: reconciler,
		Checkout:   checkoutSvc,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
