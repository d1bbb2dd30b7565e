package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siphon/internal/core/id"
)

func TestFixedBucket(t *testing.T) {
	tests := []struct {
		kind   MovementKind
		bucket Bucket
		fixed  bool
	}{
		{KindProductionForSale, BucketSellable, true},
		{KindWebSale, BucketSellable, true},
		{KindPOSSale, BucketSellable, true},
		{KindProductionInternal, BucketTasting, true},
		{KindTastingUsed, BucketTasting, true},
		{KindAdjustment, "", false},
		{KindLoss, "", false},
	}

	for _, tt := range tests {
		bucket, ok := tt.kind.FixedBucket()
		assert.Equal(t, tt.fixed, ok, "kind %s", tt.kind)
		assert.Equal(t, tt.bucket, bucket, "kind %s", tt.kind)
	}
}

func TestNewMovementDerivesBucket(t *testing.T) {
	// The bucket argument is ignored for fixed-bucket kinds.
	m := NewMovement(id.New(), KindWebSale, BucketTasting, -1, "", "tester")
	assert.Equal(t, BucketSellable, m.Bucket)

	m = NewMovement(id.New(), KindAdjustment, BucketTasting, 5, "", "tester")
	assert.Equal(t, BucketTasting, m.Bucket)
}

func TestMovementValidate(t *testing.T) {
	ctx := context.Background()
	productID := id.New()

	t.Run("valid production", func(t *testing.T) {
		m := NewMovement(productID, KindProductionForSale, "", 10, "", "tester")
		require.NoError(t, m.Validate(ctx))
	})

	t.Run("production must be positive", func(t *testing.T) {
		m := NewMovement(productID, KindProductionForSale, "", -10, "", "tester")
		require.Error(t, m.Validate(ctx))
	})

	t.Run("consumption must be negative", func(t *testing.T) {
		m := NewMovement(productID, KindWebSale, "", 3, "", "tester")
		require.Error(t, m.Validate(ctx))
	})

	t.Run("zero delta rejected", func(t *testing.T) {
		m := NewMovement(productID, KindAdjustment, BucketSellable, 0, "", "tester")
		require.Error(t, m.Validate(ctx))
	})

	t.Run("nil product rejected", func(t *testing.T) {
		m := NewMovement(id.Nil(), KindLoss, BucketSellable, -1, "", "tester")
		require.Error(t, m.Validate(ctx))
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		m := NewMovement(productID, MovementKind("restock"), BucketSellable, 1, "", "tester")
		require.Error(t, m.Validate(ctx))
	})

	t.Run("bucket mismatch rejected", func(t *testing.T) {
		m := StockMovement{
			ID:        id.New(),
			ProductID: productID,
			Kind:      KindWebSale,
			Bucket:    BucketTasting,
			Delta:     -1,
		}
		require.Error(t, m.Validate(ctx))
	})

	t.Run("adjustment requires a bucket", func(t *testing.T) {
		m := StockMovement{
			ID:        id.New(),
			ProductID: productID,
			Kind:      KindAdjustment,
			Delta:     1,
		}
		require.Error(t, m.Validate(ctx))
	})
}

func TestStockLevelGet(t *testing.T) {
	level := StockLevel{Sellable: 7, Tasting: 3}
	assert.Equal(t, int64(7), level.Get(BucketSellable))
	assert.Equal(t, int64(3), level.Get(BucketTasting))
}
