package production

import (
	"context"

	"siphon/internal/core/id"
)

// Repository defines persistence for production batches.
type Repository interface {
	// Create inserts the batch header.
	Create(ctx context.Context, b *Batch) error

	// SaveLines inserts the batch lines.
	SaveLines(ctx context.Context, batchID id.ID, lines []BatchLine) error

	// GetByID retrieves the batch header (without lines).
	GetByID(ctx context.Context, batchID id.ID) (*Batch, error)

	// GetLines retrieves the batch lines ordered by line number.
	GetLines(ctx context.Context, batchID id.ID) ([]BatchLine, error)

	// List returns batch headers, newest first.
	List(ctx context.Context, limit, offset int) ([]Batch, error)

	// Delete removes the batch and its lines. The ledger effect is reversed
	// separately by compensating movements; facts are never deleted.
	Delete(ctx context.Context, batchID id.ID) error
}
