package channel

import (
	"context"

	"siphon/internal/core/id"
)

// MappingRepository defines persistence for channel mappings.
// Implementations must surface uniqueness violations as duplicate errors
// naming the violated field (productId or externalCatalogId).
type MappingRepository interface {
	Create(ctx context.Context, m *Mapping) error
	Update(ctx context.Context, m *Mapping) error
	Delete(ctx context.Context, mappingID id.ID) error
	GetByID(ctx context.Context, mappingID id.ID) (*Mapping, error)
	GetByExternalCatalogID(ctx context.Context, externalCatalogID string) (*Mapping, error)
	GetByProductID(ctx context.Context, productID id.ID) (*Mapping, error)
	List(ctx context.Context) ([]Mapping, error)
}

// EventRepository defines persistence for pending channel events.
type EventRepository interface {
	// Insert stores a new event. Returns false when an event with the same
	// external transaction id already exists (at-least-once delivery).
	Insert(ctx context.Context, e *PendingEvent) (bool, error)

	// GetForUpdate loads an event with a row lock so concurrent
	// reconciliation runs serialize on it.
	GetForUpdate(ctx context.Context, eventID id.ID) (*PendingEvent, error)

	// ListByState returns events in the given state, oldest first.
	ListByState(ctx context.Context, state EventState, limit int) ([]PendingEvent, error)

	// SetMatched persists the unmatched -> matched transition.
	SetMatched(ctx context.Context, eventID, productID id.ID) error

	// SetApplied persists the matched -> applied transition. Must run in the
	// same transaction as the ledger movement append.
	SetApplied(ctx context.Context, eventID id.ID) error

	// CountByState returns the number of events per state.
	CountByState(ctx context.Context) (map[EventState]int64, error)
}
