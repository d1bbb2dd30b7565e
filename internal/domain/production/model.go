// Package production provides production batch recording.
// A batch splits its output into sellable and internal (tasting) stock and
// posts both sides to the ledger atomically.
package production

import (
	"context"
	"time"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
)

// Batch represents one production run.
type Batch struct {
	ID        id.ID       `db:"id" json:"id"`
	Date      time.Time   `db:"date" json:"date"`
	Notes     string      `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
	Lines     []BatchLine `db:"-" json:"lines"`
}

// BatchLine is one product's output within a batch.
// Invariant: ForSale + Internal == Produced, Produced > 0.
type BatchLine struct {
	ID        id.ID `db:"id" json:"id"`
	BatchID   id.ID `db:"batch_id" json:"batchId"`
	LineNo    int   `db:"line_no" json:"lineNo"`
	ProductID id.ID `db:"product_id" json:"productId"`
	Produced  int64 `db:"produced" json:"quantityProduced"`
	ForSale   int64 `db:"for_sale" json:"quantityForSale"`
	Internal  int64 `db:"internal" json:"quantityInternal"`
}

// NewBatch creates a batch with a generated id.
func NewBatch(date time.Time, notes string) *Batch {
	return &Batch{
		ID:        id.New(),
		Date:      date,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
		Lines:     make([]BatchLine, 0),
	}
}

// AddLine appends a line item to the batch.
func (b *Batch) AddLine(productID id.ID, produced, forSale, internal int64) {
	b.Lines = append(b.Lines, BatchLine{
		ID:        id.New(),
		BatchID:   b.ID,
		LineNo:    len(b.Lines) + 1,
		ProductID: productID,
		Produced:  produced,
		ForSale:   forSale,
		Internal:  internal,
	})
}

// Validate checks the split invariant on every line before anything is written.
func (b *Batch) Validate(ctx context.Context) error {
	if b.Date.IsZero() {
		return apperror.NewValidation("date is required").WithDetail("field", "date")
	}
	if len(b.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for i, line := range b.Lines {
		if id.IsNil(line.ProductID) {
			return apperror.NewValidation("product is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.Produced <= 0 {
			return apperror.NewValidation("quantityProduced must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.ForSale < 0 || line.Internal < 0 {
			return apperror.NewValidation("split quantities must be non-negative").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.ForSale+line.Internal != line.Produced {
			return apperror.NewValidation("quantityForSale + quantityInternal must equal quantityProduced").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1).
				WithDetail("quantityProduced", line.Produced).
				WithDetail("quantityForSale", line.ForSale).
				WithDetail("quantityInternal", line.Internal)
		}
	}

	return nil
}

// Contribution is a batch's total ledger effect per product.
type Contribution struct {
	ForSale  int64
	Internal int64
}

// Contributions sums line quantities per product. Used by deletion to check
// whether current stock still covers what this batch added.
func (b *Batch) Contributions() map[id.ID]Contribution {
	out := make(map[id.ID]Contribution, len(b.Lines))
	for _, line := range b.Lines {
		c := out[line.ProductID]
		c.ForSale += line.ForSale
		c.Internal += line.Internal
		out[line.ProductID] = c
	}
	return out
}
