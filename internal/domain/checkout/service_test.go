package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/core/types"
	"siphon/internal/domain/ledger"
)

type memOrderRepo struct {
	mu         sync.Mutex
	orders     map[id.ID]*Order
	nextNumber int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[id.ID]*Order), nextNumber: 1000}
}

func (r *memOrderRepo) CreateOrder(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.IdempotencyKey != "" {
		for _, existing := range r.orders {
			if existing.IdempotencyKey == o.IdempotencyKey {
				return ErrKeyTaken
			}
		}
	}
	copied := *o
	copied.Lines = append([]OrderLine(nil), o.Lines...)
	r.orders[o.ID] = &copied
	return nil
}

func (r *memOrderRepo) GetByID(_ context.Context, orderID id.ID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperror.NewNotFound("order", orderID)
	}
	copied := *o
	copied.Lines = append([]OrderLine(nil), o.Lines...)
	return &copied, nil
}

func (r *memOrderRepo) GetByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.IdempotencyKey == key {
			copied := *o
			copied.Lines = append([]OrderLine(nil), o.Lines...)
			return &copied, nil
		}
	}
	return nil, apperror.NewNotFound("order", key)
}

func (r *memOrderRepo) FindRecentByContact(_ context.Context, contact string, total types.Money, window time.Duration) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-window)
	for _, o := range r.orders {
		if o.CustomerContact == contact && o.Total.Equal(total) &&
			o.Status != StatusCancelled && o.CreatedAt.After(cutoff) {
			copied := *o
			copied.Lines = append([]OrderLine(nil), o.Lines...)
			return &copied, nil
		}
	}
	return nil, apperror.NewNotFound("order", contact)
}

func (r *memOrderRepo) SetAuthorized(_ context.Context, orderID id.ID, paymentHandle string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, apperror.NewNotFound("order", orderID)
	}
	if o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusPaymentAuthorized
	o.PaymentHandle = paymentHandle
	return true, nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, orderID id.ID, status OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return apperror.NewNotFound("order", orderID)
	}
	o.Status = status
	return nil
}

func (r *memOrderRepo) NextOrderNumber(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextNumber++
	return fmt.Sprintf("W-%06d", r.nextNumber), nil
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// fakeAuthorizer counts calls, dedupes on the order id the way the provider
// dedupes on its idempotency reference, and can be told to fail.
type fakeAuthorizer struct {
	mu       sync.Mutex
	calls    int
	failNext bool
	handles  map[id.ID]string
}

func (a *fakeAuthorizer) Authorize(_ context.Context, req AuthorizationRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if a.failNext {
		a.failNext = false
		return "", apperror.NewUpstreamUnavailable("payment provider", nil)
	}

	if a.handles == nil {
		a.handles = make(map[id.ID]string)
	}
	if h, ok := a.handles[req.OrderID]; ok {
		return h, nil
	}
	h := "auth-" + req.OrderID.String()[:8]
	a.handles[req.OrderID] = h
	return h, nil
}

func (a *fakeAuthorizer) authorizedOrders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

type memLedgerRepo struct {
	mu        sync.Mutex
	movements []ledger.StockMovement
	levels    map[id.ID]ledger.StockLevel
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{levels: make(map[id.ID]ledger.StockLevel)}
}

func (r *memLedgerRepo) InsertMovement(_ context.Context, m ledger.StockMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.movements = append(r.movements, m)
	return nil
}

func (r *memLedgerRepo) ListMovements(_ context.Context, _ id.ID, _ ledger.MovementFilter) ([]ledger.StockMovement, error) {
	return nil, nil
}

func (r *memLedgerRepo) GetLevel(_ context.Context, productID id.ID) (ledger.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[productID], nil
}

func (r *memLedgerRepo) GetLevelForUpdate(_ context.Context, productID id.ID) (ledger.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.levels[productID]; !ok {
		r.levels[productID] = ledger.StockLevel{ProductID: productID}
	}
	return r.levels[productID], nil
}

func (r *memLedgerRepo) ApplyDelta(_ context.Context, productID id.ID, bucket ledger.Bucket, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels[level.ProductID] = level
	return nil
}

func (r *memLedgerRepo) sellable(productID id.ID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[productID].Sellable
}

func (r *memLedgerRepo) movementCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.movements)
}

func (r *memLedgerRepo) SumDeltas(_ context.Context, _ id.ID) (int64, int64, error) {
	return 0, 0, nil
}

func (r *memLedgerRepo) ProductIDsWithMovements(_ context.Context) ([]id.ID, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc        *Service
	orders     *memOrderRepo
	ledgerRepo *memLedgerRepo
	authorizer *fakeAuthorizer
	tokens     *TokenCache
	productID  id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := newMemOrderRepo()
	ledgerRepo := newMemLedgerRepo()
	ledgerSvc := ledger.NewService(ledgerRepo, passthroughTx{})
	authorizer := &fakeAuthorizer{}
	tokens := NewTokenCache(time.Minute, 100)

	productID := id.New()
	_, err := ledgerSvc.Append(context.Background(), ledger.AppendRequest{
		ProductID: productID,
		Kind:      ledger.KindProductionForSale,
		Delta:     50,
		Actor:     "tester",
	})
	require.NoError(t, err)

	svc := NewService(orders, ledgerSvc, authorizer, tokens, passthroughTx{}, 5*time.Minute)
	return &fixture{
		svc:        svc,
		orders:     orders,
		ledgerRepo: ledgerRepo,
		authorizer: authorizer,
		tokens:     tokens,
		productID:  productID,
	}
}

func (f *fixture) request(key string) Request {
	price := decimal.NewFromFloat(9.50)
	return Request{
		IdempotencyKey:  key,
		CustomerContact: "ada@example.com",
		Lines: []RequestLine{
			{ProductID: f.productID, Quantity: 2, UnitPrice: price},
		},
		Total: price.Mul(decimal.NewFromInt(2)),
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Checkout(ctx, f.request("tok-1"))
	require.NoError(t, err)
	assert.False(t, id.IsNil(result.OrderID))
	assert.NotEmpty(t, result.OrderNumber)
	assert.NotEmpty(t, result.PaymentHandle)

	order, err := f.svc.Get(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentAuthorized, order.Status)

	// Seed movement plus one web_sale debit.
	require.Len(t, f.ledgerRepo.movements, 2)
	debit := f.ledgerRepo.movements[1]
	assert.Equal(t, ledger.KindWebSale, debit.Kind)
	assert.Equal(t, int64(-2), debit.Delta)
	assert.Equal(t, int64(48), f.ledgerRepo.levels[f.productID].Sellable)
}

func TestCheckoutReplayReturnsIdenticalTriple(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Checkout(ctx, f.request("tok-2"))
	require.NoError(t, err)

	second, err := f.svc.Checkout(ctx, f.request("tok-2"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.authorizer.calls)
	assert.Len(t, f.orders.orders, 1)
	assert.Len(t, f.ledgerRepo.movements, 2)
}

func TestCheckoutReplaySurvivesColdCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Checkout(ctx, f.request("tok-3"))
	require.NoError(t, err)

	// Drop the cache: correctness must come from the durable key lookup.
	f.tokens.entries = make(map[string]tokenEntry)

	second, err := f.svc.Checkout(ctx, f.request("tok-3"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.authorizer.calls)
	assert.Len(t, f.ledgerRepo.movements, 2)
}

func TestCheckoutTrailingWindowCatchesKeylessRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Checkout(ctx, f.request(""))
	require.NoError(t, err)

	second, err := f.svc.Checkout(ctx, f.request(""))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, f.orders.orders, 1)
	assert.Len(t, f.ledgerRepo.movements, 2)
}

func TestCheckoutUpstreamFailureKeepsOrderRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authorizer.failNext = true

	_, err := f.svc.Checkout(ctx, f.request("tok-4"))
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))

	// The order exists but stays pending with no stock movement.
	order, err := f.orders.GetByIdempotencyKey(ctx, "tok-4")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, order.Status)
	assert.Len(t, f.ledgerRepo.movements, 1)

	// Retry with the same key resumes the pending order and finishes it.
	result, err := f.svc.Checkout(ctx, f.request("tok-4"))
	require.NoError(t, err)
	assert.Equal(t, order.ID, result.OrderID)
	assert.Equal(t, 2, f.authorizer.calls)
	assert.Len(t, f.orders.orders, 1)
	assert.Len(t, f.ledgerRepo.movements, 2)
}

func TestCheckoutInsufficientStockRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	price := decimal.NewFromFloat(9.50)
	req := Request{
		IdempotencyKey:  "tok-5",
		CustomerContact: "ada@example.com",
		Lines: []RequestLine{
			{ProductID: f.productID, Quantity: 100, UnitPrice: price},
		},
		Total: price.Mul(decimal.NewFromInt(100)),
	}

	_, err := f.svc.Checkout(ctx, req)
	require.Error(t, err)
	assert.True(t, apperror.IsConsistency(err))
	assert.Equal(t, int64(50), f.ledgerRepo.levels[f.productID].Sellable)
}

func TestCheckoutValidationRejectsTotalMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := f.request("tok-6")
	req.Total = decimal.NewFromFloat(1.00)

	_, err := f.svc.Checkout(ctx, req)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Empty(t, f.orders.orders)
}

func TestCancelRestocksAuthorizedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Checkout(ctx, f.request("tok-7"))
	require.NoError(t, err)
	assert.Equal(t, int64(48), f.ledgerRepo.levels[f.productID].Sellable)

	require.NoError(t, f.svc.Cancel(ctx, result.OrderID))

	order, err := f.svc.Get(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, order.Status)
	assert.Equal(t, int64(50), f.ledgerRepo.levels[f.productID].Sellable)

	// Compensating adjustment is a new fact, not a deleted one.
	require.Len(t, f.ledgerRepo.movements, 3)
	assert.Equal(t, ledger.KindAdjustment, f.ledgerRepo.movements[2].Kind)
	assert.Equal(t, int64(2), f.ledgerRepo.movements[2].Delta)
}

func TestCancelPendingOrderDoesNotRestock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authorizer.failNext = true

	_, err := f.svc.Checkout(ctx, f.request("tok-8"))
	require.Error(t, err)

	order, err := f.orders.GetByIdempotencyKey(ctx, "tok-8")
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, order.ID))
	assert.Len(t, f.ledgerRepo.movements, 1)
	assert.Equal(t, int64(50), f.ledgerRepo.levels[f.productID].Sellable)
}

func TestCheckoutAfterCancelConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Checkout(ctx, f.request("tok-9"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, result.OrderID))

	// A late replay of a cancelled order's key must not resurrect it.
	f.tokens.entries = make(map[string]tokenEntry)
	_, err = f.svc.Checkout(ctx, f.request("tok-9"))
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
}

func TestCheckoutDistinctTokensCreateSeparateOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Checkout(ctx, f.request("tok-a"))
	require.NoError(t, err)

	// Same contact and total, but a fresh token: a deliberate second purchase,
	// not a retry.
	second, err := f.svc.Checkout(ctx, f.request("tok-b"))
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.NotEqual(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, 2, f.orders.count())
	assert.Equal(t, 2, f.authorizer.authorizedOrders())
	assert.Equal(t, int64(46), f.ledgerRepo.sellable(f.productID))
}

func TestCheckoutConcurrentSameTokenSingleOrder(t *testing.T) {
	f := newFixture(t)
	req := f.request("tok-race")

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Checkout(context.Background(), req)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])

	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, 1, f.authorizer.authorizedOrders())
	// Seed movement plus exactly one web_sale set.
	assert.Equal(t, 2, f.ledgerRepo.movementCount())
	assert.Equal(t, int64(48), f.ledgerRepo.sellable(f.productID))
}

// inFlightKeyRepo simulates losing the key race to an insert that has not
// committed yet: the key is taken but the winning order is not visible.
type inFlightKeyRepo struct {
	*memOrderRepo
}

func (r *inFlightKeyRepo) CreateOrder(_ context.Context, _ *Order) error {
	return ErrKeyTaken
}

func (r *inFlightKeyRepo) GetByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	return nil, apperror.NewNotFound("order", key)
}

func TestCheckoutKeyTakenByUncommittedAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ledgerSvc := ledger.NewService(f.ledgerRepo, passthroughTx{})
	svc := NewService(&inFlightKeyRepo{f.orders}, ledgerSvc, f.authorizer, f.tokens, passthroughTx{}, time.Second)

	_, err := svc.Checkout(ctx, f.request("tok-inflight"))
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeIdempotency, appErr.Code)
	assert.Equal(t, 0, f.authorizer.authorizedOrders())
}

func TestAdvanceStatusEnforcesLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Checkout(ctx, f.request("tok-10"))
	require.NoError(t, err)

	require.NoError(t, f.svc.AdvanceStatus(ctx, result.OrderID, StatusFulfilling))
	require.NoError(t, f.svc.AdvanceStatus(ctx, result.OrderID, StatusShipped))

	// Skipping delivered -> back to pending is illegal.
	err = f.svc.AdvanceStatus(ctx, result.OrderID, StatusPending)
	require.Error(t, err)

	err = f.svc.Cancel(ctx, result.OrderID)
	require.Error(t, err)
}
