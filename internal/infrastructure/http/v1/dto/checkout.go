package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"siphon/internal/domain/checkout"
)

// CheckoutRequest is one storefront checkout attempt.
type CheckoutRequest struct {
	IdempotencyKey  string                `json:"idempotencyKey"`
	CustomerContact string                `json:"customerContact" binding:"required"`
	Lines           []CheckoutLineRequest `json:"lineItems" binding:"required"`
	Total           decimal.Decimal       `json:"total" binding:"required"`
}

// CheckoutLineRequest is one cart position.
type CheckoutLineRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Quantity  int64           `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unitPrice" binding:"required"`
}

// CheckoutResponse is the result triple; replays return the same values.
type CheckoutResponse struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	PaymentHandle string `json:"paymentHandle"`
}

// FromCheckoutResult converts a checkout result.
func FromCheckoutResult(r checkout.Result) CheckoutResponse {
	return CheckoutResponse{
		OrderID:       r.OrderID.String(),
		OrderNumber:   r.OrderNumber,
		PaymentHandle: r.PaymentHandle,
	}
}

// OrderResponse is a full order view.
type OrderResponse struct {
	ID              string              `json:"id"`
	Number          string              `json:"number"`
	CustomerContact string              `json:"customerContact"`
	Status          string              `json:"status"`
	Total           decimal.Decimal     `json:"total"`
	PaymentHandle   string              `json:"paymentHandle,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	Lines           []OrderLineResponse `json:"lines"`
}

// OrderLineResponse is one order line.
type OrderLineResponse struct {
	LineNo    int             `json:"lineNo"`
	ProductID string          `json:"productId"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// FromOrder converts an order.
func FromOrder(o *checkout.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID.String(),
		Number:          o.Number,
		CustomerContact: o.CustomerContact,
		Status:          string(o.Status),
		Total:           o.Total,
		PaymentHandle:   o.PaymentHandle,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Lines:           make([]OrderLineResponse, 0, len(o.Lines)),
	}
	for _, line := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			LineNo:    line.LineNo,
			ProductID: line.ProductID.String(),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return resp
}

// UpdateOrderStatusRequest advances an order's lifecycle.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
