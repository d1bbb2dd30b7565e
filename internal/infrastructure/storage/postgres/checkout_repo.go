package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/core/types"
	"siphon/internal/domain/checkout"
)

const (
	ordersTable     = "orders"
	orderLinesTable = "order_lines"

	orderKeyConstraint = "orders_idempotency_key_key"
)

// CheckoutRepo implements checkout.Repository.
type CheckoutRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewCheckoutRepo creates a new order repository.
func NewCheckoutRepo(txManager *TxManager) *CheckoutRepo {
	return &CheckoutRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateOrder inserts the order and its lines in one transaction. The unique
// index on idempotency_key is the durable guard; a violation surfaces as
// checkout.ErrKeyTaken so the service converges on the winning order.
func (r *CheckoutRepo) CreateOrder(ctx context.Context, o *checkout.Order) error {
	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		querier := r.txManager.GetQuerier(ctx)

		var key any
		if o.IdempotencyKey != "" {
			key = o.IdempotencyKey
		}

		_, err := querier.Exec(ctx, `
			INSERT INTO orders
				(id, number, idempotency_key, customer_contact, status, total,
				 payment_handle, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, o.ID, o.Number, key, o.CustomerContact, o.Status, o.Total,
			o.PaymentHandle, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if constraint, ok := uniqueViolation(err); ok && constraint == orderKeyConstraint {
				return checkout.ErrKeyTaken
			}
			return fmt.Errorf("insert order: %w", err)
		}

		if len(o.Lines) == 0 {
			return nil
		}

		q := r.builder.Insert(orderLinesTable).
			Columns("id", "order_id", "line_no", "product_id", "quantity", "unit_price", "line_total")
		for _, line := range o.Lines {
			q = q.Values(line.ID, o.ID, line.LineNo, line.ProductID,
				line.Quantity, line.UnitPrice, line.LineTotal)
		}

		sql, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build lines insert: %w", err)
		}
		if _, err := querier.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}

		return nil
	})
}

func (r *CheckoutRepo) loadLines(ctx context.Context, orderID id.ID) ([]checkout.OrderLine, error) {
	var lines []checkout.OrderLine
	querier := r.txManager.GetQuerier(ctx)
	err := pgxscan.Select(ctx, querier, &lines, `
		SELECT id, order_id, line_no, product_id, quantity, unit_price, line_total
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select lines: %w", err)
	}
	return lines, nil
}

func (r *CheckoutRepo) getOne(ctx context.Context, pred squirrel.Sqlizer, notFoundID string) (*checkout.Order, error) {
	q := r.builder.Select(
		"id", "number", "COALESCE(idempotency_key, '') AS idempotency_key",
		"customer_contact", "status", "total",
		"COALESCE(payment_handle, '') AS payment_handle",
		"created_at", "updated_at",
	).From(ordersTable).
		Where(pred).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var o checkout.Order
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &o, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("order", notFoundID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	lines, err := r.loadLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines

	return &o, nil
}

// GetByID retrieves an order with lines.
func (r *CheckoutRepo) GetByID(ctx context.Context, orderID id.ID) (*checkout.Order, error) {
	return r.getOne(ctx, squirrel.Eq{"id": orderID}, orderID.String())
}

// GetByIdempotencyKey retrieves the order owning a key.
func (r *CheckoutRepo) GetByIdempotencyKey(ctx context.Context, key string) (*checkout.Order, error) {
	return r.getOne(ctx, squirrel.Eq{"idempotency_key": key}, key)
}

// FindRecentByContact returns the newest non-cancelled order for the contact
// with the same total inside the trailing window.
func (r *CheckoutRepo) FindRecentByContact(ctx context.Context, contact string, total types.Money, window time.Duration) (*checkout.Order, error) {
	cutoff := time.Now().UTC().Add(-window)
	pred := squirrel.And{
		squirrel.Eq{"customer_contact": contact},
		squirrel.Eq{"total": total},
		squirrel.NotEq{"status": checkout.StatusCancelled},
		squirrel.GtOrEq{"created_at": cutoff},
	}

	q := r.builder.Select(
		"id", "number", "COALESCE(idempotency_key, '') AS idempotency_key",
		"customer_contact", "status", "total",
		"COALESCE(payment_handle, '') AS payment_handle",
		"created_at", "updated_at",
	).From(ordersTable).
		Where(pred).
		OrderBy("created_at DESC").
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var o checkout.Order
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &o, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("order", contact)
		}
		return nil, fmt.Errorf("find recent order: %w", err)
	}

	lines, err := r.loadLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines

	return &o, nil
}

// SetAuthorized flips pending -> payment_authorized and stores the handle.
// The status guard in the WHERE clause is what makes the caller's ledger
// debits fire at most once.
func (r *CheckoutRepo) SetAuthorized(ctx context.Context, orderID id.ID, paymentHandle string) (bool, error) {
	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, `
		UPDATE orders
		SET status = $1, payment_handle = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, checkout.StatusPaymentAuthorized, paymentHandle, orderID, checkout.StatusPending)
	if err != nil {
		return false, fmt.Errorf("set authorized: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// UpdateStatus persists a status change.
func (r *CheckoutRepo) UpdateStatus(ctx context.Context, orderID id.ID, status checkout.OrderStatus) error {
	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = now() WHERE id = $2
	`, status, orderID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("order", orderID.String())
	}

	return nil
}

// NextOrderNumber issues the next order number from a sequence.
func (r *CheckoutRepo) NextOrderNumber(ctx context.Context) (string, error) {
	var n int64
	querier := r.txManager.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}

	return fmt.Sprintf("W-%06d", n), nil
}

var _ checkout.Repository = (*CheckoutRepo)(nil)
