package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/domain/channel"
)

const (
	channelMappingsTable = "channel_mappings"
	channelEventsTable   = "channel_events"
)

// Constraint names used to tell the two mapping uniqueness violations apart.
const (
	mappingProductConstraint = "channel_mappings_product_id_key"
	mappingCatalogConstraint = "channel_mappings_external_catalog_id_key"
)

// MappingRepo implements channel.MappingRepository.
type MappingRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewMappingRepo creates a new channel mapping repository.
func NewMappingRepo(txManager *TxManager) *MappingRepo {
	return &MappingRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *MappingRepo) duplicateError(constraint string, m *channel.Mapping) *apperror.AppError {
	switch constraint {
	case mappingProductConstraint:
		return apperror.NewDuplicate("channel mapping", "productId", m.ProductID.String())
	case mappingCatalogConstraint:
		return apperror.NewDuplicate("channel mapping", "externalCatalogId", m.ExternalCatalogID)
	}
	return apperror.NewDuplicate("channel mapping", constraint, "")
}

// Create inserts a mapping, translating uniqueness violations into duplicate
// errors that name the violated field.
func (r *MappingRepo) Create(ctx context.Context, m *channel.Mapping) error {
	q := r.builder.Insert(channelMappingsTable).
		Columns("id", "product_id", "external_catalog_id", "display_name", "created_at", "updated_at").
		Values(m.ID, m.ProductID, m.ExternalCatalogID, m.DisplayName, m.CreatedAt, m.UpdatedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			return r.duplicateError(constraint, m)
		}
		return fmt.Errorf("insert mapping: %w", err)
	}

	return nil
}

// Update rewrites a mapping's mutable fields.
func (r *MappingRepo) Update(ctx context.Context, m *channel.Mapping) error {
	q := r.builder.Update(channelMappingsTable).
		Set("product_id", m.ProductID).
		Set("external_catalog_id", m.ExternalCatalogID).
		Set("display_name", m.DisplayName).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": m.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			return r.duplicateError(constraint, m)
		}
		return fmt.Errorf("update mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("channel mapping", m.ID.String())
	}

	return nil
}

// Delete removes a mapping.
func (r *MappingRepo) Delete(ctx context.Context, mappingID id.ID) error {
	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx,
		`DELETE FROM channel_mappings WHERE id = $1`, mappingID)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("channel mapping", mappingID.String())
	}

	return nil
}

func (r *MappingRepo) getOne(ctx context.Context, pred squirrel.Eq, notFoundID string) (*channel.Mapping, error) {
	q := r.builder.Select("id", "product_id", "external_catalog_id", "display_name", "created_at", "updated_at").
		From(channelMappingsTable).
		Where(pred).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var m channel.Mapping
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &m, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("channel mapping", notFoundID)
		}
		return nil, fmt.Errorf("get mapping: %w", err)
	}

	return &m, nil
}

// GetByID retrieves a mapping by id.
func (r *MappingRepo) GetByID(ctx context.Context, mappingID id.ID) (*channel.Mapping, error) {
	return r.getOne(ctx, squirrel.Eq{"id": mappingID}, mappingID.String())
}

// GetByExternalCatalogID retrieves a mapping by external catalog id.
func (r *MappingRepo) GetByExternalCatalogID(ctx context.Context, externalCatalogID string) (*channel.Mapping, error) {
	return r.getOne(ctx, squirrel.Eq{"external_catalog_id": externalCatalogID}, externalCatalogID)
}

// GetByProductID retrieves a mapping by product.
func (r *MappingRepo) GetByProductID(ctx context.Context, productID id.ID) (*channel.Mapping, error) {
	return r.getOne(ctx, squirrel.Eq{"product_id": productID}, productID.String())
}

// List returns all mappings.
func (r *MappingRepo) List(ctx context.Context) ([]channel.Mapping, error) {
	q := r.builder.Select("id", "product_id", "external_catalog_id", "display_name", "created_at", "updated_at").
		From(channelMappingsTable).
		OrderBy("created_at")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var mappings []channel.Mapping
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &mappings, sql, args...); err != nil {
		return nil, fmt.Errorf("select mappings: %w", err)
	}

	return mappings, nil
}

var _ channel.MappingRepository = (*MappingRepo)(nil)

// EventRepo implements channel.EventRepository.
type EventRepo struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

// NewEventRepo creates a new channel event repository.
func NewEventRepo(txManager *TxManager) *EventRepo {
	return &EventRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Insert stores a new event. ON CONFLICT DO NOTHING on the external
// transaction id absorbs at-least-once webhook delivery; the returned bool
// reports whether this call actually created the row.
func (r *EventRepo) Insert(ctx context.Context, e *channel.PendingEvent) (bool, error) {
	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, `
		INSERT INTO channel_events
			(id, external_transaction_id, external_catalog_id, product_id,
			 quantity, amount_minor, occurred_at, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_transaction_id) DO NOTHING
	`, e.ID, e.ExternalTransactionID, e.ExternalCatalogID, e.ProductID,
		e.Quantity, e.AmountMinor, e.OccurredAt, e.State, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetForUpdate loads an event with a row lock.
func (r *EventRepo) GetForUpdate(ctx context.Context, eventID id.ID) (*channel.PendingEvent, error) {
	var e channel.PendingEvent

	querier := r.txManager.GetQuerier(ctx)
	err := pgxscan.Get(ctx, querier, &e, `
		SELECT id, external_transaction_id, external_catalog_id, product_id,
		       quantity, amount_minor, occurred_at, state, created_at, applied_at
		FROM channel_events
		WHERE id = $1
		FOR UPDATE
	`, eventID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("channel event", eventID.String())
		}
		return nil, fmt.Errorf("get event for update: %w", err)
	}

	return &e, nil
}

// ListByState returns events in the given state, oldest first.
func (r *EventRepo) ListByState(ctx context.Context, state channel.EventState, limit int) ([]channel.PendingEvent, error) {
	q := r.builder.Select(
		"id", "external_transaction_id", "external_catalog_id", "product_id",
		"quantity", "amount_minor", "occurred_at", "state", "created_at", "applied_at",
	).From(channelEventsTable).
		Where(squirrel.Eq{"state": state}).
		OrderBy("occurred_at", "created_at")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var events []channel.PendingEvent
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &events, sql, args...); err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	return events, nil
}

// SetMatched persists the unmatched -> matched transition. The state guard
// in the WHERE clause keeps a concurrent run from re-matching.
func (r *EventRepo) SetMatched(ctx context.Context, eventID, productID id.ID) error {
	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, `
		UPDATE channel_events
		SET state = $1, product_id = $2
		WHERE id = $3 AND state = $4
	`, channel.StateMatched, productID, eventID, channel.StateUnmatched)
	if err != nil {
		return fmt.Errorf("set matched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("event is not unmatched").
			WithDetail("event_id", eventID.String())
	}

	return nil
}

// SetApplied persists the matched -> applied transition.
func (r *EventRepo) SetApplied(ctx context.Context, eventID id.ID) error {
	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, `
		UPDATE channel_events
		SET state = $1, applied_at = now()
		WHERE id = $2 AND state = $3
	`, channel.StateApplied, eventID, channel.StateMatched)
	if err != nil {
		return fmt.Errorf("set applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("event is not matched").
			WithDetail("event_id", eventID.String())
	}

	return nil
}

// CountByState returns the number of events per state.
func (r *EventRepo) CountByState(ctx context.Context) (map[channel.EventState]int64, error) {
	querier := r.txManager.GetQuerier(ctx)
	rows, err := querier.Query(ctx, `
		SELECT state, COUNT(*) FROM channel_events GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[channel.EventState]int64)
	for rows.Next() {
		var state channel.EventState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}

	return counts, nil
}

var _ channel.EventRepository = (*EventRepo)(nil)
