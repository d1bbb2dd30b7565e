package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"siphon/internal/core/apperror"
	appctx "siphon/internal/core/context"
	"siphon/internal/core/id"
	"siphon/internal/domain/ledger"
	"siphon/internal/infrastructure/http/v1/dto"
)

// StockHandler handles stock levels, movement history, manual adjustments
// and the cache audit.
type StockHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(base *BaseHandler, service *ledger.Service) *StockHandler {
	return &StockHandler{
		BaseHandler: base,
		service:     service,
	}
}

// GetLevel handles GET /stock/levels/:productId
func (h *StockHandler) GetLevel(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid productId format"))
		return
	}

	level, err := h.service.CurrentStock(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromStockLevel(level))
}

// GetMovements handles GET /stock/movements/:productId
func (h *StockHandler) GetMovements(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid productId format"))
		return
	}

	filter := ledger.MovementFilter{
		Limit:  h.ParseIntQuery(c, "limit", 100),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	if kindStr := c.Query("kind"); kindStr != "" {
		kind := ledger.MovementKind(kindStr)
		filter.Kind = &kind
	}
	if bucketStr := c.Query("bucket"); bucketStr != "" {
		bucket := ledger.Bucket(bucketStr)
		filter.Bucket = &bucket
	}
	if fromStr := c.Query("fromDate"); fromStr != "" {
		if parsed, err := time.Parse(time.RFC3339, fromStr); err == nil {
			filter.FromDate = &parsed
		}
	}
	if toStr := c.Query("toDate"); toStr != "" {
		if parsed, err := time.Parse(time.RFC3339, toStr); err == nil {
			filter.ToDate = &parsed
		}
	}

	movements, err := h.service.Movements(c.Request.Context(), productID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.StockMovementResponse, len(movements))
	for i, m := range movements {
		items[i] = dto.FromStockMovement(m)
	}

	h.OK(c, dto.ListResponse{Items: items, TotalCount: len(items)})
}

// CreateAdjustment handles POST /stock/adjustments
// The body names a target quantity; the movement delta is computed against
// the current level server-side. Sales and production movements are written
// by their own flows.
func (h *StockHandler) CreateAdjustment(c *gin.Context) {
	var req dto.CreateAdjustmentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	productID, err := id.Parse(req.ProductID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid productId format"))
		return
	}

	result, err := h.service.SetQuantity(c.Request.Context(), ledger.SetQuantityRequest{
		ProductID:   productID,
		Bucket:      ledger.Bucket(req.TargetStockKind),
		Kind:        ledger.MovementKind(req.Kind),
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
		Actor:       appctx.ActorOrSystem(c.Request.Context()),
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromSetQuantity(result))
}

// Audit handles POST /stock/audit
func (h *StockHandler) Audit(c *gin.Context) {
	results, err := h.service.Audit(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.AuditResultResponse, len(results))
	drifted := 0
	for i, r := range results {
		items[i] = dto.FromAuditResult(r)
		if r.Drift {
			drifted++
		}
	}

	h.OK(c, gin.H{
		"items":        items,
		"totalCount":   len(items),
		"driftedCount": drifted,
	})
}

// Rebuild handles POST /stock/levels/:productId/rebuild
func (h *StockHandler) Rebuild(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid productId format"))
		return
	}

	if err := h.service.Rebuild(c.Request.Context(), productID); err != nil {
		h.Error(c, err)
		return
	}

	level, err := h.service.CurrentStock(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromStockLevel(level))
}

// RegisterRoutes registers stock routes.
func (h *StockHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/levels/:productId", h.GetLevel)
	rg.POST("/levels/:productId/rebuild", h.Rebuild)
	rg.GET("/movements/:productId", h.GetMovements)
	rg.POST("/adjustments", h.CreateAdjustment)
	rg.POST("/audit", h.Audit)
}
