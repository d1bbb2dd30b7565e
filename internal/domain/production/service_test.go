package production

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/domain/ledger"
	"siphon/internal/domain/product"
)

type memBatchRepo struct {
	batches map[id.ID]*Batch
	lines   map[id.ID][]BatchLine
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{
		batches: make(map[id.ID]*Batch),
		lines:   make(map[id.ID][]BatchLine),
	}
}

func (r *memBatchRepo) Create(_ context.Context, b *Batch) error {
	stored := *b
	stored.Lines = nil
	r.batches[b.ID] = &stored
	return nil
}

func (r *memBatchRepo) SaveLines(_ context.Context, batchID id.ID, lines []BatchLine) error {
	r.lines[batchID] = append([]BatchLine(nil), lines...)
	return nil
}

func (r *memBatchRepo) GetByID(_ context.Context, batchID id.ID) (*Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return nil, apperror.NewNotFound("production batch", batchID)
	}
	copied := *b
	return &copied, nil
}

func (r *memBatchRepo) GetLines(_ context.Context, batchID id.ID) ([]BatchLine, error) {
	return r.lines[batchID], nil
}

func (r *memBatchRepo) List(_ context.Context, limit, offset int) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		out = append(out, *b)
	}
	return out, nil
}

func (r *memBatchRepo) Delete(_ context.Context, batchID id.ID) error {
	if _, ok := r.batches[batchID]; !ok {
		return apperror.NewNotFound("production batch", batchID)
	}
	delete(r.batches, batchID)
	delete(r.lines, batchID)
	return nil
}

type memProductRepo struct {
	products map[id.ID]*product.Product
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{products: make(map[id.ID]*product.Product)}
}

func (r *memProductRepo) add() id.ID {
	p := product.NewProduct("RTD-001", "Negroni 100ml")
	r.products[p.ID] = p
	return p.ID
}

func (r *memProductRepo) Create(_ context.Context, p *product.Product) error {
	r.products[p.ID] = p
	return nil
}

func (r *memProductRepo) GetByID(_ context.Context, productID id.ID) (*product.Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return nil, apperror.NewNotFound("product", productID)
	}
	return p, nil
}

func (r *memProductRepo) List(_ context.Context, activeOnly bool) ([]product.Product, error) {
	var out []product.Product
	for _, p := range r.products {
		out = append(out, *p)
	}
	return out, nil
}

func (r *memProductRepo) Exists(_ context.Context, productID id.ID) (bool, error) {
	_, ok := r.products[productID]
	return ok, nil
}

// memLedgerRepo is a minimal ledger.Repository backing a real ledger.Service,
// so batch tests exercise the actual negative-balance guard.
type memLedgerRepo struct {
	movements []ledger.StockMovement
	levels    map[id.ID]ledger.StockLevel
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{levels: make(map[id.ID]ledger.StockLevel)}
}

func (r *memLedgerRepo) InsertMovement(_ context.Context, m ledger.StockMovement) error {
	r.movements = append(r.movements, m)
	return nil
}

func (r *memLedgerRepo) ListMovements(_ context.Context, productID id.ID, _ ledger.MovementFilter) ([]ledger.StockMovement, error) {
	var out []ledger.StockMovement
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) GetLevel(_ context.Context, productID id.ID) (ledger.StockLevel, error) {
	if level, ok := r.levels[productID]; ok {
		return level, nil
	}
	return ledger.StockLevel{ProductID: productID}, nil
}

func (r *memLedgerRepo) GetLevelForUpdate(ctx context.Context, productID id.ID) (ledger.StockLevel, error) {
	if _, ok := r.levels[productID]; !ok {
		r.levels[productID] = ledger.StockLevel{ProductID: productID}
	}
	return r.levels[productID], nil
}

func (r *memLedgerRepo) ApplyDelta(_ context.Context, productID id.ID, bucket ledger.Bucket, delta int64) error {
	level := r.levels[productID]
	if bucket == ledger.BucketTasting {
		level.Tasting += delta
	} else {
		level.Sellable += delta
	}
	r.levels[productID] = level
	return nil
}

func (r *memLedgerRepo) SetLevel(_ context.Context, level ledger.StockLevel) error {
	r.levels[level.ProductID] = level
	return nil
}

func (r *memLedgerRepo) SumDeltas(_ context.Context, productID id.ID) (int64, int64, error) {
	var sellable, tasting int64
	for _, m := range r.movements {
		if m.ProductID != productID {
			continue
		}
		if m.Bucket == ledger.BucketTasting {
			tasting += m.Delta
		} else {
			sellable += m.Delta
		}
	}
	return sellable, tasting, nil
}

func (r *memLedgerRepo) ProductIDsWithMovements(_ context.Context) ([]id.ID, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *memBatchRepo, *memProductRepo, *memLedgerRepo, *ledger.Service) {
	batchRepo := newMemBatchRepo()
	productRepo := newMemProductRepo()
	ledgerRepo := newMemLedgerRepo()
	ledgerSvc := ledger.NewService(ledgerRepo, passthroughTx{})
	svc := NewService(batchRepo, productRepo, ledgerSvc, passthroughTx{})
	return svc, batchRepo, productRepo, ledgerRepo, ledgerSvc
}

func TestBatchValidateSplitInvariant(t *testing.T) {
	ctx := context.Background()

	b := NewBatch(time.Now(), "")
	b.AddLine(id.New(), 10, 6, 3)
	err := b.Validate(ctx)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)

	b = NewBatch(time.Now(), "")
	b.AddLine(id.New(), 10, 6, 4)
	require.NoError(t, b.Validate(ctx))
}

func TestRecordPostsBothSplits(t *testing.T) {
	ctx := context.Background()
	svc, batchRepo, productRepo, ledgerRepo, ledgerSvc := newTestService()
	productID := productRepo.add()

	b := NewBatch(time.Now(), "friday run")
	b.AddLine(productID, 24, 20, 4)

	batchID, err := svc.Record(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, batchID)

	level, err := ledgerSvc.CurrentStock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), level.Sellable)
	assert.Equal(t, int64(4), level.Tasting)

	require.Len(t, ledgerRepo.movements, 2)
	assert.Equal(t, ledger.KindProductionForSale, ledgerRepo.movements[0].Kind)
	assert.Equal(t, ledger.KindProductionInternal, ledgerRepo.movements[1].Kind)

	assert.Len(t, batchRepo.lines[batchID], 1)
}

func TestRecordSkipsZeroSplit(t *testing.T) {
	ctx := context.Background()
	svc, _, productRepo, ledgerRepo, _ := newTestService()
	productID := productRepo.add()

	b := NewBatch(time.Now(), "")
	b.AddLine(productID, 12, 12, 0)

	_, err := svc.Record(ctx, b)
	require.NoError(t, err)

	require.Len(t, ledgerRepo.movements, 1)
	assert.Equal(t, ledger.KindProductionForSale, ledgerRepo.movements[0].Kind)
}

func TestRecordUnknownProduct(t *testing.T) {
	ctx := context.Background()
	svc, _, _, ledgerRepo, _ := newTestService()

	b := NewBatch(time.Now(), "")
	b.AddLine(id.New(), 5, 5, 0)

	_, err := svc.Record(ctx, b)
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
	assert.Empty(t, ledgerRepo.movements)
}

func TestDeleteReversesLedgerEffect(t *testing.T) {
	ctx := context.Background()
	svc, batchRepo, productRepo, ledgerRepo, ledgerSvc := newTestService()
	productID := productRepo.add()

	b := NewBatch(time.Now(), "")
	b.AddLine(productID, 10, 7, 3)
	_, err := svc.Record(ctx, b)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, b.ID))

	level, err := ledgerSvc.CurrentStock(ctx, productID)
	require.NoError(t, err)
	assert.Zero(t, level.Sellable)
	assert.Zero(t, level.Tasting)

	// Facts stay: the original movements plus two compensating adjustments.
	assert.Len(t, ledgerRepo.movements, 4)
	assert.Equal(t, ledger.KindAdjustment, ledgerRepo.movements[2].Kind)
	assert.Equal(t, ledger.KindAdjustment, ledgerRepo.movements[3].Kind)

	_, ok := batchRepo.batches[b.ID]
	assert.False(t, ok)
}

func TestDeleteFailsWhenStockConsumed(t *testing.T) {
	ctx := context.Background()
	svc, batchRepo, productRepo, _, ledgerSvc := newTestService()
	productID := productRepo.add()

	b := NewBatch(time.Now(), "")
	b.AddLine(productID, 10, 10, 0)
	_, err := svc.Record(ctx, b)
	require.NoError(t, err)

	// Sell part of the batch output.
	_, err = ledgerSvc.Append(ctx, ledger.AppendRequest{
		ProductID: productID,
		Kind:      ledger.KindWebSale,
		Delta:     -4,
		Actor:     "tester",
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsConsistency(err))

	// Batch survives a refused deletion.
	_, ok := batchRepo.batches[b.ID]
	assert.True(t, ok)
}
