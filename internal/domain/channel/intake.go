package channel

import (
	"context"
	"fmt"
	"time"

	"siphon/internal/core/apperror"
	"siphon/internal/core/types"
	"siphon/pkg/logger"
)

// IntakeService receives asynchronous point-of-sale notifications and stores
// them as pending events. It never touches the ledger; applying events is the
// reconciler's exclusive responsibility so receive and apply stay separately
// retryable.
type IntakeService struct {
	events   EventRepository
	mappings MappingRepository
}

// NewIntakeService creates a new intake service.
func NewIntakeService(events EventRepository, mappings MappingRepository) *IntakeService {
	return &IntakeService{
		events:   events,
		mappings: mappings,
	}
}

// IngestInput is one line item from the POS webhook.
type IngestInput struct {
	ExternalTransactionID string
	ExternalCatalogID     string
	Quantity              int64
	AmountMinor           types.MinorUnits
	OccurredAt            time.Time
}

// Ingest stores a pending event, deduplicating on the external transaction
// id: redelivery of an already-seen id is a no-op (accepted=false, nil error).
// When a mapping for the catalog id already exists the product is attached
// immediately; otherwise the event stays unmatched for the reconciler.
func (s *IntakeService) Ingest(ctx context.Context, input IngestInput) (accepted bool, err error) {
	e := NewPendingEvent(
		input.ExternalTransactionID,
		input.ExternalCatalogID,
		input.Quantity,
		input.AmountMinor,
		input.OccurredAt,
	)
	if err := e.Validate(ctx); err != nil {
		return false, err
	}

	mapping, err := s.mappings.GetByExternalCatalogID(ctx, e.ExternalCatalogID)
	switch {
	case err == nil:
		if err := e.Match(mapping.ProductID); err != nil {
			return false, err
		}
	case apperror.IsNotFound(err):
		// No mapping yet; the reconciler's match phase will retry.
	default:
		return false, fmt.Errorf("lookup mapping: %w", err)
	}

	inserted, err := s.events.Insert(ctx, e)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	if !inserted {
		logger.Debug(ctx, "duplicate channel event ignored",
			"external_transaction_id", e.ExternalTransactionID,
		)
		return false, nil
	}

	logger.Info(ctx, "channel event ingested",
		"event_id", e.ID,
		"external_transaction_id", e.ExternalTransactionID,
		"state", e.State,
	)
	return true, nil
}

// ListUnmatched returns events still waiting for a mapping, oldest first.
// This is the operator's "needs mapping" view.
func (s *IntakeService) ListUnmatched(ctx context.Context, limit int) ([]PendingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.events.ListByState(ctx, StateUnmatched, limit)
}

// Backlog returns event counts per state.
func (s *IntakeService) Backlog(ctx context.Context) (map[EventState]int64, error) {
	return s.events.CountByState(ctx)
}
