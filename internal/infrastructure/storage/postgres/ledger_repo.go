package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"siphon/internal/core/id"
	"siphon/internal/domain/ledger"
)

const (
	stockMovementsTable = "stock_movements"
	stockLevelsTable    = "stock_levels"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txManager *TxManager) *LedgerRepo {
	return &LedgerRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// InsertMovement appends one movement row. Movements are never updated or
// deleted after this point.
func (r *LedgerRepo) InsertMovement(ctx context.Context, m ledger.StockMovement) error {
	q := r.builder.Insert(stockMovementsTable).
		Columns("id", "product_id", "kind", "bucket", "delta", "note", "actor", "created_at").
		Values(m.ID, m.ProductID, m.Kind, m.Bucket, m.Delta, m.Note, m.Actor, m.CreatedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}

	return nil
}

// ListMovements returns movement history for a product, newest first.
func (r *LedgerRepo) ListMovements(ctx context.Context, productID id.ID, filter ledger.MovementFilter) ([]ledger.StockMovement, error) {
	q := r.builder.Select(
		"id", "product_id", "kind", "bucket", "delta", "note", "actor", "created_at",
	).From(stockMovementsTable).
		Where(squirrel.Eq{"product_id": productID})

	if filter.Kind != nil {
		q = q.Where(squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.Bucket != nil {
		q = q.Where(squirrel.Eq{"bucket": *filter.Bucket})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *filter.ToDate})
	}

	q = q.OrderBy("created_at DESC", "id DESC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []ledger.StockMovement
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}

	return movements, nil
}

// GetLevel returns the cached counters, or a zero level if absent.
func (r *LedgerRepo) GetLevel(ctx context.Context, productID id.ID) (ledger.StockLevel, error) {
	var level ledger.StockLevel

	q := r.builder.Select("product_id", "sellable", "tasting", "updated_at").
		From(stockLevelsTable).
		Where(squirrel.Eq{"product_id": productID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return level, fmt.Errorf("build query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &level, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return ledger.StockLevel{ProductID: productID}, nil
		}
		return level, fmt.Errorf("get level: %w", err)
	}

	return level, nil
}

// GetLevelForUpdate locks the level row, inserting it first when absent.
// The upsert is idempotent, so two concurrent first-appends both end up
// queuing on the same row lock.
func (r *LedgerRepo) GetLevelForUpdate(ctx context.Context, productID id.ID) (ledger.StockLevel, error) {
	var level ledger.StockLevel

	querier := r.txManager.GetQuerier(ctx)

	_, err := querier.Exec(ctx, `
		INSERT INTO stock_levels (product_id, sellable, tasting, updated_at)
		VALUES ($1, 0, 0, now())
		ON CONFLICT (product_id) DO NOTHING
	`, productID)
	if err != nil {
		return level, fmt.Errorf("ensure level row: %w", err)
	}

	err = pgxscan.Get(ctx, querier, &level, `
		SELECT product_id, sellable, tasting, updated_at
		FROM stock_levels
		WHERE product_id = $1
		FOR UPDATE
	`, productID)
	if err != nil {
		return level, fmt.Errorf("get level for update: %w", err)
	}

	return level, nil
}

// ApplyDelta adds delta to one bucket of the level row.
func (r *LedgerRepo) ApplyDelta(ctx context.Context, productID id.ID, bucket ledger.Bucket, delta int64) error {
	column := "sellable"
	if bucket == ledger.BucketTasting {
		column = "tasting"
	}

	sql := fmt.Sprintf(`
		UPDATE stock_levels
		SET %s = %s + $1, updated_at = now()
		WHERE product_id = $2
	`, column, column)

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, delta, productID)
	if err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply delta: level row missing for product %s", productID)
	}

	return nil
}

// SetLevel overwrites the level row.
func (r *LedgerRepo) SetLevel(ctx context.Context, level ledger.StockLevel) error {
	querier := r.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, `
		INSERT INTO stock_levels (product_id, sellable, tasting, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (product_id) DO UPDATE SET
			sellable = EXCLUDED.sellable,
			tasting = EXCLUDED.tasting,
			updated_at = now()
	`, level.ProductID, level.Sellable, level.Tasting)
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}

	return nil
}

// SumDeltas recomputes both counters from the movement log.
func (r *LedgerRepo) SumDeltas(ctx context.Context, productID id.ID) (int64, int64, error) {
	var sellable, tasting int64

	querier := r.txManager.GetQuerier(ctx)
	err := querier.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(delta) FILTER (WHERE bucket = 'sellable'), 0),
			COALESCE(SUM(delta) FILTER (WHERE bucket = 'tasting'), 0)
		FROM stock_movements
		WHERE product_id = $1
	`, productID).Scan(&sellable, &tasting)
	if err != nil {
		return 0, 0, fmt.Errorf("sum deltas: %w", err)
	}

	return sellable, tasting, nil
}

// ProductIDsWithMovements lists products in audit scope.
func (r *LedgerRepo) ProductIDsWithMovements(ctx context.Context) ([]id.ID, error) {
	var ids []id.ID

	querier := r.txManager.GetQuerier(ctx)
	err := pgxscan.Select(ctx, querier, &ids, `
		SELECT product_id FROM stock_levels
		UNION
		SELECT DISTINCT product_id FROM stock_movements
		ORDER BY product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("select product ids: %w", err)
	}

	return ids, nil
}

var _ ledger.Repository = (*LedgerRepo)(nil)
