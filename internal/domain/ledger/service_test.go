package ledger

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	movements []StockMovement
	levels    map[id.ID]StockLevel
}

func newMemRepo() *memRepo {
	return &memRepo{levels: make(map[id.ID]StockLevel)}
}

func (r *memRepo) InsertMovement(_ context.Context, m StockMovement) error {
	r.movements = append(r.movements, m)
	return nil
}

func (r *memRepo) ListMovements(_ context.Context, productID id.ID, filter MovementFilter) ([]StockMovement, error) {
	var out []StockMovement
	for _, m := range r.movements {
		if m.ProductID != productID {
			continue
		}
		if filter.Kind != nil && m.Kind != *filter.Kind {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memRepo) GetLevel(_ context.Context, productID id.ID) (StockLevel, error) {
	if level, ok := r.levels[productID]; ok {
		return level, nil
	}
	return StockLevel{ProductID: productID}, nil
}

func (r *memRepo) GetLevelForUpdate(ctx context.Context, productID id.ID) (StockLevel, error) {
	if _, ok := r.levels[productID]; !ok {
		r.levels[productID] = StockLevel{ProductID: productID}
	}
	return r.levels[productID], nil
}

func (r *memRepo) ApplyDelta(_ context.Context, productID id.ID, bucket Bucket, delta int64) error {
	level := r.levels[productID]
	if bucket == BucketTasting {
		level.Tasting += delta
	} else {
		level.Sellable += delta
	}
	level.UpdatedAt = time.Now()
	r.levels[productID] = level
	return nil
}

func (r *memRepo) SetLevel(_ context.Context, level StockLevel) error {
	r.levels[level.ProductID] = level
	return nil
}

func (r *memRepo) SumDeltas(_ context.Context, productID id.ID) (int64, int64, error) {
	var sellable, tasting int64
	for _, m := range r.movements {
		if m.ProductID != productID {
			continue
		}
		if m.Bucket == BucketTasting {
			tasting += m.Delta
		} else {
			sellable += m.Delta
		}
	}
	return sellable, tasting, nil
}

func (r *memRepo) ProductIDsWithMovements(_ context.Context) ([]id.ID, error) {
	seen := make(map[id.ID]bool)
	var out []id.ID
	for pid := range r.levels {
		if !seen[pid] {
			seen[pid] = true
			out = append(out, pid)
		}
	}
	for _, m := range r.movements {
		if !seen[m.ProductID] {
			seen[m.ProductID] = true
			out = append(out, m.ProductID)
		}
	}
	return out, nil
}

// passthroughTx runs the function without a real transaction.
type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestAppendUpdatesCachedLevel(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID,
		Kind:      KindProductionForSale,
		Delta:     10,
		Actor:     "tester",
	})
	require.NoError(t, err)

	_, err = svc.Append(ctx, AppendRequest{
		ProductID: productID,
		Kind:      KindProductionInternal,
		Delta:     5,
		Actor:     "tester",
	})
	require.NoError(t, err)

	_, err = svc.Append(ctx, AppendRequest{
		ProductID: productID,
		Kind:      KindTastingUsed,
		Delta:     -3,
		Actor:     "tester",
	})
	require.NoError(t, err)

	level, err := svc.CurrentStock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), level.Sellable)
	assert.Equal(t, int64(2), level.Tasting)
	assert.Len(t, repo.movements, 3)
}

func TestAppendRejectsNegativeBalance(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID,
		Kind:      KindWebSale,
		Delta:     -5,
		Actor:     "tester",
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)

	// Rejection leaves no trace in the log or the cache.
	assert.Empty(t, repo.movements)
	level, _ := svc.CurrentStock(ctx, productID)
	assert.Zero(t, level.Sellable)
}

func TestAppendPartialConsumptionThenOverdraw(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindProductionForSale, Delta: 4, Actor: "tester",
	})
	require.NoError(t, err)

	_, err = svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindPOSSale, Delta: -4, Actor: "tester",
	})
	require.NoError(t, err)

	_, err = svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindPOSSale, Delta: -1, Actor: "tester",
	})
	require.Error(t, err)

	level, _ := svc.CurrentStock(ctx, productID)
	assert.Zero(t, level.Sellable)
	assert.Len(t, repo.movements, 2)
}

func TestAuditDetectsDriftAndRebuildRepairs(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindProductionForSale, Delta: 8, Actor: "tester",
	})
	require.NoError(t, err)

	result, err := svc.AuditProduct(ctx, productID)
	require.NoError(t, err)
	assert.False(t, result.Drift)

	// Corrupt the cache behind the service's back.
	require.NoError(t, repo.SetLevel(ctx, StockLevel{ProductID: productID, Sellable: 99}))

	result, err = svc.AuditProduct(ctx, productID)
	require.NoError(t, err)
	assert.True(t, result.Drift)
	assert.Equal(t, int64(99), result.CachedSellable)
	assert.Equal(t, int64(8), result.SummedSellable)

	require.NoError(t, svc.Rebuild(ctx, productID))

	result, err = svc.AuditProduct(ctx, productID)
	require.NoError(t, err)
	assert.False(t, result.Drift)
	assert.Equal(t, int64(8), result.CachedSellable)
}

func TestAuditCoversAllProducts(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()

	for range 3 {
		_, err := svc.Append(ctx, AppendRequest{
			ProductID: id.New(), Kind: KindProductionForSale, Delta: 1, Actor: "tester",
		})
		require.NoError(t, err)
	}

	results, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Drift)
	}
}

func TestSetQuantitySizesMovementFromCurrentLevel(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindProductionForSale, Delta: 10, Actor: "tester",
	})
	require.NoError(t, err)

	result, err := svc.SetQuantity(ctx, SetQuantityRequest{
		ProductID:   productID,
		Bucket:      BucketSellable,
		NewQuantity: 7,
		Reason:      "cycle count",
		Actor:       "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), result.Delta)
	assert.Equal(t, int64(7), result.Level.Sellable)
	assert.False(t, id.IsNil(result.MovementID))

	last := repo.movements[len(repo.movements)-1]
	assert.Equal(t, KindAdjustment, last.Kind)
	assert.Equal(t, int64(-3), last.Delta)
	assert.Equal(t, "cycle count", last.Note)

	result, err = svc.SetQuantity(ctx, SetQuantityRequest{
		ProductID:   productID,
		Bucket:      BucketSellable,
		NewQuantity: 12,
		Reason:      "found a case in the back",
		Actor:       "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Delta)
	assert.Equal(t, int64(12), result.Level.Sellable)

	level, err := svc.CurrentStock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), level.Sellable)
	assert.Len(t, repo.movements, 3)
}

func TestSetQuantityEqualTargetWritesNothing(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindProductionForSale, Delta: 5, Actor: "tester",
	})
	require.NoError(t, err)

	result, err := svc.SetQuantity(ctx, SetQuantityRequest{
		ProductID:   productID,
		Bucket:      BucketSellable,
		NewQuantity: 5,
		Reason:      "cycle count",
		Actor:       "tester",
	})
	require.NoError(t, err)
	assert.True(t, id.IsNil(result.MovementID))
	assert.Zero(t, result.Delta)
	assert.Equal(t, int64(5), result.Level.Sellable)
	assert.Len(t, repo.movements, 1)
}

func TestSetQuantityRejectsInvalidInput(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	cases := []struct {
		name string
		req  SetQuantityRequest
	}{
		{"negative target", SetQuantityRequest{
			ProductID: productID, Bucket: BucketSellable, NewQuantity: -1, Reason: "x", Actor: "tester",
		}},
		{"blank reason", SetQuantityRequest{
			ProductID: productID, Bucket: BucketSellable, NewQuantity: 1, Reason: "   ", Actor: "tester",
		}},
		{"sale kind not allowed", SetQuantityRequest{
			ProductID: productID, Bucket: BucketSellable, Kind: KindWebSale, NewQuantity: 1, Reason: "x", Actor: "tester",
		}},
		{"unknown bucket", SetQuantityRequest{
			ProductID: productID, Bucket: Bucket("fridge"), NewQuantity: 1, Reason: "x", Actor: "tester",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SetQuantity(ctx, tc.req)
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
		})
	}
	assert.Empty(t, repo.movements)
}

func TestSetQuantityLossOnlyDecreases(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindProductionForSale, Delta: 3, Actor: "tester",
	})
	require.NoError(t, err)

	_, err = svc.SetQuantity(ctx, SetQuantityRequest{
		ProductID:   productID,
		Bucket:      BucketSellable,
		Kind:        KindLoss,
		NewQuantity: 5,
		Reason:      "miscount",
		Actor:       "tester",
	})
	require.Error(t, err)
	assert.Len(t, repo.movements, 1)

	result, err := svc.SetQuantity(ctx, SetQuantityRequest{
		ProductID:   productID,
		Bucket:      BucketSellable,
		Kind:        KindLoss,
		NewQuantity: 1,
		Reason:      "two cans dropped",
		Actor:       "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), result.Delta)
	assert.Equal(t, KindLoss, repo.movements[len(repo.movements)-1].Kind)
}

func TestRandomOperationSequenceKeepsCacheConsistent(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	products := []id.ID{id.New(), id.New(), id.New(), id.New()}

	for range 500 {
		productID := products[rng.Intn(len(products))]
		var err error
		switch rng.Intn(7) {
		case 0:
			_, err = svc.Append(ctx, AppendRequest{
				ProductID: productID, Kind: KindProductionForSale,
				Delta: 1 + rng.Int63n(10), Actor: "tester",
			})
		case 1:
			_, err = svc.Append(ctx, AppendRequest{
				ProductID: productID, Kind: KindProductionInternal,
				Delta: 1 + rng.Int63n(5), Actor: "tester",
			})
		case 2:
			_, err = svc.Append(ctx, AppendRequest{
				ProductID: productID, Kind: KindWebSale,
				Delta: -(1 + rng.Int63n(4)), Actor: "tester",
			})
		case 3:
			_, err = svc.Append(ctx, AppendRequest{
				ProductID: productID, Kind: KindPOSSale,
				Delta: -(1 + rng.Int63n(4)), Actor: "tester",
			})
		case 4:
			_, err = svc.Append(ctx, AppendRequest{
				ProductID: productID, Kind: KindTastingUsed,
				Delta: -(1 + rng.Int63n(3)), Actor: "tester",
			})
		case 5:
			_, err = svc.SetQuantity(ctx, SetQuantityRequest{
				ProductID: productID, Bucket: BucketSellable,
				NewQuantity: rng.Int63n(20), Reason: "cycle count", Actor: "tester",
			})
		case 6:
			_, err = svc.SetQuantity(ctx, SetQuantityRequest{
				ProductID: productID, Bucket: BucketTasting,
				NewQuantity: rng.Int63n(10), Reason: "cycle count", Actor: "tester",
			})
		}
		if err != nil {
			// Overdrawn sales are the only legitimate failures here.
			assert.True(t, apperror.IsConsistency(err), "unexpected error: %v", err)
		}
	}

	// Whatever the sequence did, the cache must equal the recomputed sums
	// and no counter may be negative.
	results, err := svc.Audit(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.False(t, r.Drift, "product %s drifted", r.ProductID)
	}

	for _, productID := range products {
		level, err := svc.CurrentStock(ctx, productID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, level.Sellable, int64(0))
		assert.GreaterOrEqual(t, level.Tasting, int64(0))
	}
}

func TestMovementsAppliesDefaultLimit(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, passthroughTx{})
	ctx := context.Background()
	productID := id.New()

	_, err := svc.Append(ctx, AppendRequest{
		ProductID: productID, Kind: KindProductionForSale, Delta: 2, Actor: "tester",
	})
	require.NoError(t, err)

	kind := KindProductionForSale
	movements, err := svc.Movements(ctx, productID, MovementFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}
