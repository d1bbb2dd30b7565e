package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/domain/checkout"
	"siphon/internal/infrastructure/http/v1/dto"
)

// CheckoutHandler handles storefront checkout and order lifecycle.
type CheckoutHandler struct {
	*BaseHandler
	service *checkout.Service
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(base *BaseHandler, service *checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Checkout handles POST /checkout
// The idempotency key may arrive in the body or the Idempotency-Key header;
// the header wins when both are present.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req dto.CheckoutRequest
	if !h.BindJSON(c, &req) {
		return
	}

	key := req.IdempotencyKey
	if headerKey := c.GetHeader("Idempotency-Key"); headerKey != "" {
		key = headerKey
	}

	domainReq := checkout.Request{
		IdempotencyKey:  key,
		CustomerContact: req.CustomerContact,
		Total:           req.Total,
	}
	for i, line := range req.Lines {
		productID, err := id.Parse(line.ProductID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid productId format").
				WithDetail("lineNo", i+1))
			return
		}
		domainReq.Lines = append(domainReq.Lines, checkout.RequestLine{
			ProductID: productID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	result, err := h.service.Checkout(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromCheckoutResult(result))
}

// GetOrder handles GET /orders/:id
func (h *CheckoutHandler) GetOrder(c *gin.Context) {
	orderID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid order id format"))
		return
	}

	order, err := h.service.Get(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromOrder(order))
}

// UpdateStatus handles PUT /orders/:id/status
func (h *CheckoutHandler) UpdateStatus(c *gin.Context) {
	orderID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid order id format"))
		return
	}

	var req dto.UpdateOrderStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	status := checkout.OrderStatus(req.Status)
	if status == checkout.StatusCancelled {
		if err := h.service.Cancel(c.Request.Context(), orderID); err != nil {
			h.Error(c, err)
			return
		}
	} else {
		if err := h.service.AdvanceStatus(c.Request.Context(), orderID, status); err != nil {
			h.Error(c, err)
			return
		}
	}

	order, err := h.service.Get(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromOrder(order))
}

// RegisterRoutes registers checkout routes.
func (h *CheckoutHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/checkout", h.Checkout)
	rg.GET("/orders/:id", h.GetOrder)
	rg.PUT("/orders/:id/status", h.UpdateStatus)
}
