package handlers

import (
	"github.com/gin-gonic/gin"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/core/types"
	"siphon/internal/domain/channel"
	"siphon/internal/infrastructure/http/v1/dto"
)

// ChannelHandler handles POS integration: mappings, webhook intake, the
// pending event views and manual reconciliation runs.
type ChannelHandler struct {
	*BaseHandler
	mappings   *channel.MappingService
	intake     *channel.IntakeService
	reconciler *channel.Reconciler
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(base *BaseHandler, mappings *channel.MappingService, intake *channel.IntakeService, reconciler *channel.Reconciler) *ChannelHandler {
	return &ChannelHandler{
		BaseHandler: base,
		mappings:    mappings,
		intake:      intake,
		reconciler:  reconciler,
	}
}

// CreateMapping handles POST /channel/mappings
func (h *ChannelHandler) CreateMapping(c *gin.Context) {
	var req dto.CreateMappingRequest
	if !h.BindJSON(c, &req) {
		return
	}

	productID, err := id.Parse(req.ProductID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid productId format"))
		return
	}

	m, err := h.mappings.Create(c.Request.Context(), productID, req.ExternalCatalogID, req.DisplayName)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, m.ID.String())
}

// UpdateMapping handles PUT /channel/mappings/:id
func (h *ChannelHandler) UpdateMapping(c *gin.Context) {
	mappingID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid mapping id format"))
		return
	}

	var req dto.UpdateMappingRequest
	if !h.BindJSON(c, &req) {
		return
	}

	m, err := h.mappings.Update(c.Request.Context(), mappingID, req.ExternalCatalogID, req.DisplayName)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromMapping(*m))
}

// DeleteMapping handles DELETE /channel/mappings/:id
func (h *ChannelHandler) DeleteMapping(c *gin.Context) {
	mappingID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid mapping id format"))
		return
	}

	if err := h.mappings.Delete(c.Request.Context(), mappingID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// ListMappings handles GET /channel/mappings
func (h *ChannelHandler) ListMappings(c *gin.Context) {
	mappings, err := h.mappings.List(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.MappingResponse, len(mappings))
	for i, m := range mappings {
		items[i] = dto.FromMapping(m)
	}

	h.OK(c, dto.ListResponse{Items: items, TotalCount: len(items)})
}

// Webhook handles POST /channel/webhook
// The POS retries deliveries, so a duplicate transaction id is acknowledged
// with accepted=false instead of an error.
func (h *ChannelHandler) Webhook(c *gin.Context) {
	var req dto.WebhookEventRequest
	if !h.BindJSON(c, &req) {
		return
	}

	accepted, err := h.intake.Ingest(c.Request.Context(), channel.IngestInput{
		ExternalTransactionID: req.ExternalTransactionID,
		ExternalCatalogID:     req.ExternalCatalogID,
		Quantity:              req.Quantity,
		AmountMinor:           types.MinorUnits(req.AmountMinor),
		OccurredAt:            req.OccurredAt,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.WebhookResponse{Accepted: accepted})
}

// ListPending handles GET /channel/pending
func (h *ChannelHandler) ListPending(c *gin.Context) {
	events, err := h.intake.ListUnmatched(c.Request.Context(), h.ParseIntQuery(c, "limit", 100))
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.PendingEventResponse, len(events))
	for i, e := range events {
		items[i] = dto.FromPendingEvent(e)
	}

	h.OK(c, dto.ListResponse{Items: items, TotalCount: len(items)})
}

// Backlog handles GET /channel/backlog
func (h *ChannelHandler) Backlog(c *gin.Context) {
	counts, err := h.intake.Backlog(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromBacklog(counts))
}

// Reconcile handles POST /channel/reconcile
func (h *ChannelHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}

// RegisterRoutes registers channel routes.
func (h *ChannelHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/mappings", h.CreateMapping)
	rg.GET("/mappings", h.ListMappings)
	rg.PUT("/mappings/:id", h.UpdateMapping)
	rg.DELETE("/mappings/:id", h.DeleteMapping)
	rg.POST("/webhook", h.Webhook)
	rg.GET("/pending", h.ListPending)
	rg.GET("/backlog", h.Backlog)
	rg.POST("/reconcile", h.Reconcile)
}
