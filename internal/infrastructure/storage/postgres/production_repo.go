package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/domain/production"
)

const (
	productionBatchesTable = "production_batches"
	productionLinesTable   = "production_batch_lines"
)

// ProductionRepo implements production.Repository.
type ProductionRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewProductionRepo creates a new production batch repository.
func NewProductionRepo(txManager *TxManager) *ProductionRepo {
	return &ProductionRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts the batch header.
func (r *ProductionRepo) Create(ctx context.Context, b *production.Batch) error {
	q := r.builder.Insert(productionBatchesTable).
		Columns("id", "date", "notes", "created_at").
		Values(b.ID, b.Date, b.Notes, b.CreatedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	return nil
}

// SaveLines inserts the batch lines.
func (r *ProductionRepo) SaveLines(ctx context.Context, batchID id.ID, lines []production.BatchLine) error {
	if len(lines) == 0 {
		return nil
	}

	q := r.builder.Insert(productionLinesTable).
		Columns("id", "batch_id", "line_no", "product_id", "produced", "for_sale", "internal")

	for _, line := range lines {
		q = q.Values(line.ID, batchID, line.LineNo, line.ProductID,
			line.Produced, line.ForSale, line.Internal)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert lines: %w", err)
	}

	return nil
}

// GetByID retrieves the batch header.
func (r *ProductionRepo) GetByID(ctx context.Context, batchID id.ID) (*production.Batch, error) {
	q := r.builder.Select("id", "date", "notes", "created_at").
		From(productionBatchesTable).
		Where(squirrel.Eq{"id": batchID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var b production.Batch
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("production batch", batchID.String())
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}

	return &b, nil
}

// GetLines retrieves the batch lines ordered by line number.
func (r *ProductionRepo) GetLines(ctx context.Context, batchID id.ID) ([]production.BatchLine, error) {
	q := r.builder.Select("id", "batch_id", "line_no", "product_id", "produced", "for_sale", "internal").
		From(productionLinesTable).
		Where(squirrel.Eq{"batch_id": batchID}).
		OrderBy("line_no")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []production.BatchLine
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("select lines: %w", err)
	}

	return lines, nil
}

// List returns batch headers, newest first.
func (r *ProductionRepo) List(ctx context.Context, limit, offset int) ([]production.Batch, error) {
	q := r.builder.Select("id", "date", "notes", "created_at").
		From(productionBatchesTable).
		OrderBy("date DESC", "created_at DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []production.Batch
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select batches: %w", err)
	}

	return batches, nil
}

// Delete removes the batch and its lines. Lines go first; there is no
// cascade so a partial delete cannot orphan them silently.
func (r *ProductionRepo) Delete(ctx context.Context, batchID id.ID) error {
	querier := r.txManager.GetQuerier(ctx)

	if _, err := querier.Exec(ctx,
		`DELETE FROM production_batch_lines WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("delete lines: %w", err)
	}

	tag, err := querier.Exec(ctx,
		`DELETE FROM production_batches WHERE id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("production batch", batchID.String())
	}

	return nil
}

var _ production.Repository = (*ProductionRepo)(nil)
