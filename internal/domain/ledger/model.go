// Package ledger provides the append-only stock ledger.
// Movements are immutable facts; the per-product stock level is a cached
// projection that must always equal the sum of movement deltas.
package ledger

import (
	"context"
	"time"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
)

// Bucket selects which of the two stock counters a movement affects.
type Bucket string

const (
	// BucketSellable is stock available to web and POS channels.
	BucketSellable Bucket = "sellable"
	// BucketTasting is internal stock reserved for tastings and samples.
	BucketTasting Bucket = "tasting"
)

// MovementKind classifies a ledger entry by its write path.
type MovementKind string

const (
	KindProductionForSale  MovementKind = "production_for_sale"
	KindProductionInternal MovementKind = "production_internal"
	KindWebSale            MovementKind = "web_sale"
	KindPOSSale            MovementKind = "pos_sale"
	KindTastingUsed        MovementKind = "tasting_used"
	KindAdjustment         MovementKind = "adjustment"
	KindLoss               MovementKind = "loss"
)

// FixedBucket returns the bucket a kind always affects. Adjustment and loss
// movements carry their bucket explicitly and return ok=false here.
func (k MovementKind) FixedBucket() (Bucket, bool) {
	switch k {
	case KindProductionForSale, KindWebSale, KindPOSSale:
		return BucketSellable, true
	case KindProductionInternal, KindTastingUsed:
		return BucketTasting, true
	}
	return "", false
}

func isValidKind(k MovementKind) bool {
	switch k {
	case KindProductionForSale, KindProductionInternal, KindWebSale,
		KindPOSSale, KindTastingUsed, KindAdjustment, KindLoss:
		return true
	}
	return false
}

func isValidBucket(b Bucket) bool {
	return b == BucketSellable || b == BucketTasting
}

// StockMovement is one immutable ledger entry. Movements are never updated
// or deleted; corrections are new movements.
type StockMovement struct {
	ID        id.ID        `db:"id" json:"id"`
	ProductID id.ID        `db:"product_id" json:"productId"`
	Kind      MovementKind `db:"kind" json:"kind"`
	Bucket    Bucket       `db:"bucket" json:"bucket"`
	Delta     int64        `db:"delta" json:"delta"`
	Note      string       `db:"note" json:"note,omitempty"`
	Actor     string       `db:"actor" json:"actor"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// NewMovement creates a movement with a generated id. For fixed-bucket kinds
// the bucket argument is ignored and derived from the kind.
func NewMovement(productID id.ID, kind MovementKind, bucket Bucket, delta int64, note, actor string) StockMovement {
	if fixed, ok := kind.FixedBucket(); ok {
		bucket = fixed
	}
	return StockMovement{
		ID:        id.New(),
		ProductID: productID,
		Kind:      kind,
		Bucket:    bucket,
		Delta:     delta,
		Note:      note,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks structural invariants before the movement is written.
func (m *StockMovement) Validate(ctx context.Context) error {
	if id.IsNil(m.ProductID) {
		return apperror.NewValidation("product is required").
			WithDetail("field", "productId")
	}
	if !isValidKind(m.Kind) {
		return apperror.NewValidation("invalid movement kind").
			WithDetail("field", "kind").
			WithDetail("value", string(m.Kind))
	}
	if !isValidBucket(m.Bucket) {
		return apperror.NewValidation("invalid stock bucket").
			WithDetail("field", "bucket").
			WithDetail("value", string(m.Bucket))
	}
	if fixed, ok := m.Kind.FixedBucket(); ok && fixed != m.Bucket {
		return apperror.NewValidation("bucket does not match movement kind").
			WithDetail("kind", string(m.Kind)).
			WithDetail("bucket", string(m.Bucket))
	}
	if m.Delta == 0 {
		return apperror.NewValidation("delta must be non-zero").
			WithDetail("field", "delta")
	}

	switch m.Kind {
	case KindProductionForSale, KindProductionInternal:
		if m.Delta < 0 {
			return apperror.NewValidation("production movements must be positive").
				WithDetail("kind", string(m.Kind))
		}
	case KindWebSale, KindPOSSale, KindTastingUsed:
		if m.Delta > 0 {
			return apperror.NewValidation("consumption movements must be negative").
				WithDetail("kind", string(m.Kind))
		}
	}

	return nil
}

// StockLevel is the cached sum of movement deltas for a product.
// It is rebuildable from the movement log, which is the durable truth.
type StockLevel struct {
	ProductID id.ID     `db:"product_id" json:"productId"`
	Sellable  int64     `db:"sellable" json:"sellable"`
	Tasting   int64     `db:"tasting" json:"tasting"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Get returns the counter for the given bucket.
func (l StockLevel) Get(b Bucket) int64 {
	if b == BucketTasting {
		return l.Tasting
	}
	return l.Sellable
}
