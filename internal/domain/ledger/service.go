package ledger

import (
	"context"
	"fmt"
	"strings"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/core/tx"
	"siphon/pkg/logger"
)

// Service provides business operations for the stock ledger.
type Service struct {
	repo      Repository
	txManager tx.Manager
}

// NewService creates a new ledger service.
func NewService(repo Repository, txManager tx.Manager) *Service {
	return &Service{
		repo:      repo,
		txManager: txManager,
	}
}

// AppendRequest describes one ledger append.
type AppendRequest struct {
	ProductID id.ID
	Kind      MovementKind
	// Bucket is required for adjustment and loss kinds, derived otherwise.
	Bucket Bucket
	Delta  int64
	Note   string
	Actor  string
}

// Append writes one movement fact and atomically updates the cached counter.
// The level row is locked for the duration of the transaction, so two
// concurrent writers on the same product serialize instead of losing updates.
// An append that would drive a counter negative is rejected with no writes.
//
// Callers already inside a transaction (production posting, reconciliation,
// checkout) share that transaction; the append commits or rolls back with it.
func (s *Service) Append(ctx context.Context, req AppendRequest) (id.ID, error) {
	m := NewMovement(req.ProductID, req.Kind, req.Bucket, req.Delta, req.Note, req.Actor)
	if err := m.Validate(ctx); err != nil {
		return id.Nil(), err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		level, err := s.repo.GetLevelForUpdate(ctx, m.ProductID)
		if err != nil {
			return fmt.Errorf("lock level: %w", err)
		}

		if next := level.Get(m.Bucket) + m.Delta; next < 0 {
			return apperror.NewInsufficientStock(
				m.ProductID.String(),
				-m.Delta,
				level.Get(m.Bucket),
			).WithDetail("bucket", string(m.Bucket))
		}

		if err := s.repo.InsertMovement(ctx, m); err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}

		if err := s.repo.ApplyDelta(ctx, m.ProductID, m.Bucket, m.Delta); err != nil {
			return fmt.Errorf("apply delta: %w", err)
		}

		return nil
	})
	if err != nil {
		return id.Nil(), err
	}

	logger.Info(ctx, "movement appended",
		"movement_id", m.ID,
		"product_id", m.ProductID,
		"kind", m.Kind,
		"bucket", m.Bucket,
		"delta", m.Delta,
	)

	return m.ID, nil
}

// SetQuantityRequest describes one manual set-to-target correction.
type SetQuantityRequest struct {
	ProductID id.ID
	Bucket    Bucket
	// Kind is adjustment or loss; empty defaults to adjustment. A loss can
	// only decrease the counter.
	Kind        MovementKind
	NewQuantity int64
	Reason      string
	Actor       string
}

// SetQuantityResult reports what a set-to-target call wrote. MovementID is
// nil when the target equalled the current quantity and nothing was written.
type SetQuantityResult struct {
	MovementID id.ID
	Delta      int64
	Level      StockLevel
}

// SetQuantity sets one counter to a target quantity. The movement is sized
// server-side as the difference from the current level, read under the same
// row lock the append takes, so a concurrent writer cannot slip between the
// read and the write.
func (s *Service) SetQuantity(ctx context.Context, req SetQuantityRequest) (SetQuantityResult, error) {
	if req.Kind == "" {
		req.Kind = KindAdjustment
	}
	if req.Kind != KindAdjustment && req.Kind != KindLoss {
		return SetQuantityResult{}, apperror.NewValidation("kind must be adjustment or loss").
			WithDetail("kind", string(req.Kind))
	}
	if !isValidBucket(req.Bucket) {
		return SetQuantityResult{}, apperror.NewValidation("invalid stock bucket").
			WithDetail("field", "targetStockKind").
			WithDetail("value", string(req.Bucket))
	}
	if req.NewQuantity < 0 {
		return SetQuantityResult{}, apperror.NewValidation("newQuantity must not be negative").
			WithDetail("field", "newQuantity")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return SetQuantityResult{}, apperror.NewValidation("reason is required").
			WithDetail("field", "reason")
	}

	var result SetQuantityResult
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		level, err := s.repo.GetLevelForUpdate(ctx, req.ProductID)
		if err != nil {
			return fmt.Errorf("lock level: %w", err)
		}

		delta := req.NewQuantity - level.Get(req.Bucket)
		result.Level = level
		if delta == 0 {
			return nil
		}
		if req.Kind == KindLoss && delta > 0 {
			return apperror.NewValidation("loss cannot increase stock").
				WithDetail("currentQuantity", level.Get(req.Bucket)).
				WithDetail("newQuantity", req.NewQuantity)
		}

		movementID, err := s.Append(ctx, AppendRequest{
			ProductID: req.ProductID,
			Kind:      req.Kind,
			Bucket:    req.Bucket,
			Delta:     delta,
			Note:      req.Reason,
			Actor:     req.Actor,
		})
		if err != nil {
			return err
		}

		result.MovementID = movementID
		result.Delta = delta
		if req.Bucket == BucketTasting {
			result.Level.Tasting = req.NewQuantity
		} else {
			result.Level.Sellable = req.NewQuantity
		}
		return nil
	})
	if err != nil {
		return SetQuantityResult{}, err
	}

	return result, nil
}

// CurrentStock returns the cached counters for a product.
func (s *Service) CurrentStock(ctx context.Context, productID id.ID) (StockLevel, error) {
	return s.repo.GetLevel(ctx, productID)
}

// Movements returns movement history for a product.
func (s *Service) Movements(ctx context.Context, productID id.ID, filter MovementFilter) ([]StockMovement, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListMovements(ctx, productID, filter)
}

// AuditResult reports one product's cached counters against the summed log.
type AuditResult struct {
	ProductID      id.ID `json:"productId"`
	CachedSellable int64 `json:"cachedSellable"`
	SummedSellable int64 `json:"summedSellable"`
	CachedTasting  int64 `json:"cachedTasting"`
	SummedTasting  int64 `json:"summedTasting"`
	Drift          bool  `json:"drift"`
}

// AuditProduct recomputes the counters from the movement log and compares
// them to the cache.
func (s *Service) AuditProduct(ctx context.Context, productID id.ID) (AuditResult, error) {
	level, err := s.repo.GetLevel(ctx, productID)
	if err != nil {
		return AuditResult{}, fmt.Errorf("get level: %w", err)
	}

	sellable, tasting, err := s.repo.SumDeltas(ctx, productID)
	if err != nil {
		return AuditResult{}, fmt.Errorf("sum deltas: %w", err)
	}

	result := AuditResult{
		ProductID:      productID,
		CachedSellable: level.Sellable,
		SummedSellable: sellable,
		CachedTasting:  level.Tasting,
		SummedTasting:  tasting,
		Drift:          level.Sellable != sellable || level.Tasting != tasting,
	}

	if result.Drift {
		logger.Warn(ctx, "stock level drift detected",
			"product_id", productID,
			"cached_sellable", level.Sellable,
			"summed_sellable", sellable,
			"cached_tasting", level.Tasting,
			"summed_tasting", tasting,
		)
	}

	return result, nil
}

// Audit checks every product with ledger activity. Drifted products are
// reported, not repaired; Rebuild is the explicit repair path.
func (s *Service) Audit(ctx context.Context) ([]AuditResult, error) {
	productIDs, err := s.repo.ProductIDsWithMovements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	results := make([]AuditResult, 0, len(productIDs))
	for _, pid := range productIDs {
		result, err := s.AuditProduct(ctx, pid)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// Rebuild overwrites the cached counters from the movement log.
// The log is the durable truth; the level row is a rebuildable cache.
func (s *Service) Rebuild(ctx context.Context, productID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetLevelForUpdate(ctx, productID); err != nil {
			return fmt.Errorf("lock level: %w", err)
		}

		sellable, tasting, err := s.repo.SumDeltas(ctx, productID)
		if err != nil {
			return fmt.Errorf("sum deltas: %w", err)
		}

		return s.repo.SetLevel(ctx, StockLevel{
			ProductID: productID,
			Sellable:  sellable,
			Tasting:   tasting,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "stock level rebuilt", "product_id", productID)
	return nil
}
