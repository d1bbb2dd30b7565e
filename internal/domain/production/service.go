package production

import (
	"context"
	"fmt"

	"siphon/internal/core/apperror"
	appctx "siphon/internal/core/context"
	"siphon/internal/core/id"
	"siphon/internal/core/tx"
	"siphon/internal/domain/ledger"
	"siphon/internal/domain/product"
	"siphon/pkg/logger"
)

// Service records production batches into the stock ledger.
type Service struct {
	repo      Repository
	products  product.Repository
	ledger    *ledger.Service
	txManager tx.Manager
}

// NewService creates a new production service.
func NewService(repo Repository, products product.Repository, ledgerSvc *ledger.Service, txManager tx.Manager) *Service {
	return &Service{
		repo:      repo,
		products:  products,
		ledger:    ledgerSvc,
		txManager: txManager,
	}
}

// Record validates the batch and writes it atomically: batch header, lines,
// and two ledger movements per line (for-sale and internal splits).
// All-or-nothing: a failing line leaves no partial writes.
func (s *Service) Record(ctx context.Context, b *Batch) (id.ID, error) {
	if err := b.Validate(ctx); err != nil {
		return id.Nil(), err
	}

	for i, line := range b.Lines {
		exists, err := s.products.Exists(ctx, line.ProductID)
		if err != nil {
			return id.Nil(), fmt.Errorf("check product: %w", err)
		}
		if !exists {
			return id.Nil(), apperror.NewNotFound("product", line.ProductID).
				WithDetail("lineNo", i+1)
		}
	}

	actor := appctx.ActorOrSystem(ctx)
	note := fmt.Sprintf("production batch %s", b.ID)

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, b); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		if err := s.repo.SaveLines(ctx, b.ID, b.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}

		for _, line := range b.Lines {
			if line.ForSale > 0 {
				_, err := s.ledger.Append(ctx, ledger.AppendRequest{
					ProductID: line.ProductID,
					Kind:      ledger.KindProductionForSale,
					Delta:     line.ForSale,
					Note:      note,
					Actor:     actor,
				})
				if err != nil {
					return fmt.Errorf("post for-sale movement: %w", err)
				}
			}
			if line.Internal > 0 {
				_, err := s.ledger.Append(ctx, ledger.AppendRequest{
					ProductID: line.ProductID,
					Kind:      ledger.KindProductionInternal,
					Delta:     line.Internal,
					Note:      note,
					Actor:     actor,
				})
				if err != nil {
					return fmt.Errorf("post internal movement: %w", err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return id.Nil(), err
	}

	logger.Info(ctx, "production batch recorded",
		"batch_id", b.ID,
		"lines", len(b.Lines),
	)

	return b.ID, nil
}

// GetByID retrieves a batch with lines.
func (s *Service) GetByID(ctx context.Context, batchID id.ID) (*Batch, error) {
	b, err := s.repo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.GetLines(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	b.Lines = lines

	return b, nil
}

// List returns batch headers, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Batch, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// Delete reverses a batch's ledger effect and removes the batch.
//
// Conservative rule: reversal is allowed only while current stock still
// covers the batch's contribution per product. Movements are not attributable
// to a batch, so "stock still covers it" approximates "nothing from this
// batch has been consumed". When stock has dropped below the contribution,
// deletion fails instead of driving a counter negative.
func (s *Service) Delete(ctx context.Context, batchID id.ID) error {
	b, err := s.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	actor := appctx.ActorOrSystem(ctx)
	note := fmt.Sprintf("reversal of production batch %s", b.ID)

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for productID, c := range b.Contributions() {
			// Append rejects any delta that would drive the counter
			// negative, which is exactly the coverage check.
			if c.ForSale > 0 {
				_, err := s.ledger.Append(ctx, ledger.AppendRequest{
					ProductID: productID,
					Kind:      ledger.KindAdjustment,
					Bucket:    ledger.BucketSellable,
					Delta:     -c.ForSale,
					Note:      note,
					Actor:     actor,
				})
				if err != nil {
					return wrapReversalError(err, batchID)
				}
			}
			if c.Internal > 0 {
				_, err := s.ledger.Append(ctx, ledger.AppendRequest{
					ProductID: productID,
					Kind:      ledger.KindAdjustment,
					Bucket:    ledger.BucketTasting,
					Delta:     -c.Internal,
					Note:      note,
					Actor:     actor,
				})
				if err != nil {
					return wrapReversalError(err, batchID)
				}
			}
		}

		return s.repo.Delete(ctx, batchID)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "production batch deleted", "batch_id", batchID)
	return nil
}

func wrapReversalError(err error, batchID id.ID) error {
	if apperror.IsConsistency(err) {
		return apperror.NewConsistency("deleting batch would drive stock negative").
			WithDetail("batch_id", batchID.String()).
			WithCause(err)
	}
	return err
}
