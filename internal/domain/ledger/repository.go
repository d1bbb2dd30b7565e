package ledger

import (
	"context"
	"time"

	"siphon/internal/core/id"
)

// Repository defines persistence operations for the stock ledger.
type Repository interface {
	// InsertMovement appends one immutable movement fact.
	InsertMovement(ctx context.Context, m StockMovement) error

	// ListMovements returns movement history for a product, newest first.
	ListMovements(ctx context.Context, productID id.ID, filter MovementFilter) ([]StockMovement, error)

	// GetLevel returns the cached counters, or a zero level if the product
	// has no movements yet.
	GetLevel(ctx context.Context, productID id.ID) (StockLevel, error)

	// GetLevelForUpdate returns the cached counters with a row lock,
	// creating the row first if absent. Must be called inside a transaction;
	// this is what serializes concurrent appends per product.
	GetLevelForUpdate(ctx context.Context, productID id.ID) (StockLevel, error)

	// ApplyDelta adds delta to one bucket of the cached level row.
	ApplyDelta(ctx context.Context, productID id.ID, bucket Bucket, delta int64) error

	// SetLevel overwrites the cached level row (used by rebuild).
	SetLevel(ctx context.Context, level StockLevel) error

	// SumDeltas recomputes both counters from the movement log.
	SumDeltas(ctx context.Context, productID id.ID) (sellable, tasting int64, err error)

	// ProductIDsWithMovements lists products that have at least one movement
	// or a level row (audit scope).
	ProductIDsWithMovements(ctx context.Context) ([]id.ID, error)
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	Kind     *MovementKind
	Bucket   *Bucket
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}
