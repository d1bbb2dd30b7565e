package handlers

import (
	"github.com/gin-gonic/gin"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/domain/production"
	"siphon/internal/infrastructure/http/v1/dto"
)

// ProductionHandler handles production batch recording and deletion.
type ProductionHandler struct {
	*BaseHandler
	service *production.Service
}

// NewProductionHandler creates a new production handler.
func NewProductionHandler(base *BaseHandler, service *production.Service) *ProductionHandler {
	return &ProductionHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Create handles POST /production/batches
func (h *ProductionHandler) Create(c *gin.Context) {
	var req dto.CreateBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	b := production.NewBatch(req.Date, req.Notes)
	for i, line := range req.Lines {
		productID, err := id.Parse(line.ProductID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid productId format").
				WithDetail("lineNo", i+1))
			return
		}
		b.AddLine(productID, line.QuantityProduced, line.QuantityForSale, line.QuantityInternal)
	}

	batchID, err := h.service.Record(c.Request.Context(), b)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, batchID.String())
}

// Get handles GET /production/batches/:id
func (h *ProductionHandler) Get(c *gin.Context) {
	batchID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid batch id format"))
		return
	}

	b, err := h.service.GetByID(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromBatch(*b))
}

// List handles GET /production/batches
func (h *ProductionHandler) List(c *gin.Context) {
	batches, err := h.service.List(c.Request.Context(),
		h.ParseIntQuery(c, "limit", 50),
		h.ParseIntQuery(c, "offset", 0),
	)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.BatchResponse, len(batches))
	for i, b := range batches {
		items[i] = dto.FromBatch(b)
	}

	h.OK(c, dto.ListResponse{Items: items, TotalCount: len(items)})
}

// Delete handles DELETE /production/batches/:id
// Fails with a consistency error when current stock no longer covers the
// batch's contribution.
func (h *ProductionHandler) Delete(c *gin.Context) {
	batchID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid batch id format"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), batchID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// RegisterRoutes registers production routes.
func (h *ProductionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/batches", h.Create)
	rg.GET("/batches", h.List)
	rg.GET("/batches/:id", h.Get)
	rg.DELETE("/batches/:id", h.Delete)
}
