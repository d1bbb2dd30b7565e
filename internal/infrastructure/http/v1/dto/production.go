package dto

import (
	"time"

	"siphon/internal/domain/production"
)

// CreateBatchRequest records a production run.
type CreateBatchRequest struct {
	Date  time.Time                `json:"date" binding:"required"`
	Notes string                   `json:"notes"`
	Lines []CreateBatchLineRequest `json:"lines" binding:"required"`
}

// CreateBatchLineRequest is one product's output.
type CreateBatchLineRequest struct {
	ProductID        string `json:"productId" binding:"required"`
	QuantityProduced int64  `json:"quantityProduced" binding:"required"`
	QuantityForSale  int64  `json:"quantityForSale"`
	QuantityInternal int64  `json:"quantityInternal"`
}

// BatchResponse is a production batch with lines.
type BatchResponse struct {
	ID        string              `json:"id"`
	Date      time.Time           `json:"date"`
	Notes     string              `json:"notes,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	Lines     []BatchLineResponse `json:"lines,omitempty"`
}

// BatchLineResponse is one batch line.
type BatchLineResponse struct {
	LineNo           int    `json:"lineNo"`
	ProductID        string `json:"productId"`
	QuantityProduced int64  `json:"quantityProduced"`
	QuantityForSale  int64  `json:"quantityForSale"`
	QuantityInternal int64  `json:"quantityInternal"`
}

// FromBatch converts a batch.
func FromBatch(b production.Batch) BatchResponse {
	resp := BatchResponse{
		ID:        b.ID.String(),
		Date:      b.Date,
		Notes:     b.Notes,
		CreatedAt: b.CreatedAt,
	}
	for _, line := range b.Lines {
		resp.Lines = append(resp.Lines, BatchLineResponse{
			LineNo:           line.LineNo,
			ProductID:        line.ProductID.String(),
			QuantityProduced: line.Produced,
			QuantityForSale:  line.ForSale,
			QuantityInternal: line.Internal,
		})
	}
	return resp
}
