// Package checkout owns web order creation and the idempotency guard that
// keeps a retried checkout attempt from minting duplicate orders, payment
// authorizations, or ledger debits.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/core/types"
)

// OrderStatus is the order lifecycle.
// pending -> payment_authorized -> fulfilling -> shipped -> delivered,
// with cancelled reachable from any pre-fulfilment state.
type OrderStatus string

const (
	StatusPending           OrderStatus = "pending"
	StatusPaymentAuthorized OrderStatus = "payment_authorized"
	StatusFulfilling        OrderStatus = "fulfilling"
	StatusShipped           OrderStatus = "shipped"
	StatusDelivered         OrderStatus = "delivered"
	StatusCancelled         OrderStatus = "cancelled"
)

// CanTransition reports whether the status change is legal.
func CanTransition(from, to OrderStatus) bool {
	switch to {
	case StatusPaymentAuthorized:
		return from == StatusPending
	case StatusFulfilling:
		return from == StatusPaymentAuthorized
	case StatusShipped:
		return from == StatusFulfilling
	case StatusDelivered:
		return from == StatusShipped
	case StatusCancelled:
		return from == StatusPending || from == StatusPaymentAuthorized
	}
	return false
}

// Order is created at most once per logical checkout attempt.
type Order struct {
	ID              id.ID       `db:"id" json:"id"`
	Number          string      `db:"number" json:"number"`
	IdempotencyKey  string      `db:"idempotency_key" json:"-"`
	CustomerContact string      `db:"customer_contact" json:"customerContact"`
	Status          OrderStatus `db:"status" json:"status"`
	Total           types.Money `db:"total" json:"total"`
	PaymentHandle   string      `db:"payment_handle" json:"paymentHandle,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updatedAt"`
	Lines           []OrderLine `db:"-" json:"lines"`
}

// OrderLine is one product position in an order.
type OrderLine struct {
	ID        id.ID       `db:"id" json:"id"`
	OrderID   id.ID       `db:"order_id" json:"orderId"`
	LineNo    int         `db:"line_no" json:"lineNo"`
	ProductID id.ID       `db:"product_id" json:"productId"`
	Quantity  int64       `db:"quantity" json:"quantity"`
	UnitPrice types.Money `db:"unit_price" json:"unitPrice"`
	LineTotal types.Money `db:"line_total" json:"lineTotal"`
}

// Request is one logical checkout attempt from the storefront.
type Request struct {
	// IdempotencyKey is client-supplied; empty means the trailing-window
	// guard is the only duplicate protection.
	IdempotencyKey  string
	CustomerContact string
	Lines           []RequestLine
	Total           types.Money
}

// RequestLine is one cart position.
type RequestLine struct {
	ProductID id.ID
	Quantity  int64
	UnitPrice types.Money
}

// Validate checks shape and the total-equals-sum invariant before any write.
func (r *Request) Validate(ctx context.Context) error {
	if strings.TrimSpace(r.CustomerContact) == "" {
		return apperror.NewValidation("customerContact is required").
			WithDetail("field", "customerContact")
	}
	if len(r.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lineItems")
	}

	sum := types.ZeroMoney()
	for i, line := range r.Lines {
		if id.IsNil(line.ProductID) {
			return apperror.NewValidation("product is required").
				WithDetail("field", "lineItems").
				WithDetail("lineNo", i+1)
		}
		if line.Quantity <= 0 {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lineItems").
				WithDetail("lineNo", i+1)
		}
		if line.UnitPrice.IsNegative() {
			return apperror.NewValidation("unitPrice must not be negative").
				WithDetail("field", "lineItems").
				WithDetail("lineNo", i+1)
		}
		sum = sum.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}

	if !sum.Equal(r.Total) {
		return apperror.NewValidation("totals do not match line items").
			WithDetail("field", "totals").
			WithDetail("expected", sum.String()).
			WithDetail("got", r.Total.String())
	}

	return nil
}

// NewOrder builds a pending order from a validated request.
func NewOrder(number string, req Request) *Order {
	now := time.Now().UTC()
	o := &Order{
		ID:              id.New(),
		Number:          number,
		IdempotencyKey:  req.IdempotencyKey,
		CustomerContact: req.CustomerContact,
		Status:          StatusPending,
		Total:           req.Total,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, line := range req.Lines {
		o.Lines = append(o.Lines, OrderLine{
			ID:        id.New(),
			OrderID:   o.ID,
			LineNo:    i + 1,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)),
		})
	}
	return o
}

// Result is the triple a checkout attempt resolves to; replays of the same
// idempotency key return an identical triple.
type Result struct {
	OrderID       id.ID  `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	PaymentHandle string `json:"paymentHandle"`
}
