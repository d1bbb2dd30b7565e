package checkout

import (
	"context"
	"errors"
	"time"

	"siphon/internal/core/id"
	"siphon/internal/core/types"
)

// ErrKeyTaken is returned by CreateOrder when the idempotency key already
// belongs to another order. The caller loads that order and resumes it.
var ErrKeyTaken = errors.New("idempotency key already taken")

// Repository defines persistence for orders.
type Repository interface {
	// CreateOrder inserts the order and its lines. Returns ErrKeyTaken when
	// the idempotency key is already used; this is the durable guard that
	// makes concurrent replays converge on one order.
	CreateOrder(ctx context.Context, o *Order) error

	// GetByID retrieves an order with lines.
	GetByID(ctx context.Context, orderID id.ID) (*Order, error)

	// GetByIdempotencyKey retrieves the order owning a key, with lines.
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)

	// FindRecentByContact returns the newest non-cancelled order for the
	// contact with the same total created within the trailing window.
	FindRecentByContact(ctx context.Context, contact string, total types.Money, window time.Duration) (*Order, error)

	// SetAuthorized flips pending -> payment_authorized and records the
	// payment handle. Returns false when the order was not pending, which
	// means another request finalized it first.
	SetAuthorized(ctx context.Context, orderID id.ID, paymentHandle string) (bool, error)

	// UpdateStatus persists a validated status transition.
	UpdateStatus(ctx context.Context, orderID id.ID, status OrderStatus) error

	// NextOrderNumber issues the next human-facing order number.
	NextOrderNumber(ctx context.Context) (string, error)
}
