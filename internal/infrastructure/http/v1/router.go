// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"siphon/internal/domain/channel"
	"siphon/internal/domain/checkout"
	"siphon/internal/domain/ledger"
	"siphon/internal/domain/product"
	"siphon/internal/domain/production"
	"siphon/internal/infrastructure/http/v1/handlers"
	"siphon/internal/infrastructure/http/v1/middleware"
	"siphon/internal/infrastructure/storage/postgres"
	"siphon/pkg/logger"
)

// RouterConfig carries everything the router needs.
type RouterConfig struct {
	Pool       *postgres.Pool
	Logger     *logger.Logger
	Ledger     *ledger.Service
	Products   *product.Service
	Production *production.Service
	Mappings   *channel.MappingService
	Intake     *channel.IntakeService
	Reconciler *channel.Reconciler
	Checkout   *checkout.Service
}

// NewRouter assembles the gin engine with middleware and all v1 routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(
		middleware.Trace(),
		middleware.Actor(),
		middleware.Logger(cfg.Logger),
		middleware.Metrics(),
		middleware.Recovery(),
		middleware.ErrorHandler(),
	)

	base := handlers.NewBaseHandler()

	health := handlers.NewHealthHandler(cfg.Pool)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)
	router.GET("/health/info", health.Info)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	handlers.NewProductHandler(base, cfg.Products).RegisterRoutes(api.Group("/products"))
	handlers.NewStockHandler(base, cfg.Ledger).RegisterRoutes(api.Group("/stock"))
	handlers.NewProductionHandler(base, cfg.Production).RegisterRoutes(api.Group("/production"))
	handlers.NewChannelHandler(base, cfg.Mappings, cfg.Intake, cfg.Reconciler).RegisterRoutes(api.Group("/channel"))
	handlers.NewCheckoutHandler(base, cfg.Checkout).RegisterRoutes(api)

	return router
}
