package dto

import (
	"time"

	"siphon/internal/core/id"
	"siphon/internal/domain/ledger"
)

// StockLevelResponse is the cached counters for one product.
type StockLevelResponse struct {
	ProductID string    `json:"productId"`
	Sellable  int64     `json:"sellable"`
	Tasting   int64     `json:"tasting"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromStockLevel converts a stock level.
func FromStockLevel(l ledger.StockLevel) StockLevelResponse {
	return StockLevelResponse{
		ProductID: l.ProductID.String(),
		Sellable:  l.Sellable,
		Tasting:   l.Tasting,
		UpdatedAt: l.UpdatedAt,
	}
}

// StockMovementResponse is one ledger entry.
type StockMovementResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Kind      string    `json:"kind"`
	Bucket    string    `json:"bucket"`
	Delta     int64     `json:"delta"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromStockMovement converts a movement.
func FromStockMovement(m ledger.StockMovement) StockMovementResponse {
	return StockMovementResponse{
		ID:        m.ID.String(),
		ProductID: m.ProductID.String(),
		Kind:      string(m.Kind),
		Bucket:    string(m.Bucket),
		Delta:     m.Delta,
		Note:      m.Note,
		Actor:     m.Actor,
		CreatedAt: m.CreatedAt,
	}
}

// CreateAdjustmentRequest sets one stock counter to a target quantity.
// The movement delta is computed server-side from the current level.
type CreateAdjustmentRequest struct {
	ProductID       string `json:"productId" binding:"required"`
	TargetStockKind string `json:"targetStockKind" binding:"required"`
	NewQuantity     int64  `json:"newQuantity"`
	Reason          string `json:"reason" binding:"required"`
	// Kind is adjustment or loss; defaults to adjustment.
	Kind string `json:"kind,omitempty"`
}

// AdjustmentResponse reports the movement a set-to-target call emitted.
// MovementID is empty when the target matched the current quantity.
type AdjustmentResponse struct {
	MovementID string             `json:"movementId,omitempty"`
	Delta      int64              `json:"delta"`
	Level      StockLevelResponse `json:"level"`
}

// FromSetQuantity converts a set-to-target result.
func FromSetQuantity(r ledger.SetQuantityResult) AdjustmentResponse {
	resp := AdjustmentResponse{
		Delta: r.Delta,
		Level: FromStockLevel(r.Level),
	}
	if !id.IsNil(r.MovementID) {
		resp.MovementID = r.MovementID.String()
	}
	return resp
}

// AuditResultResponse is one product's audit line.
type AuditResultResponse struct {
	ProductID      string `json:"productId"`
	CachedSellable int64  `json:"cachedSellable"`
	SummedSellable int64  `json:"summedSellable"`
	CachedTasting  int64  `json:"cachedTasting"`
	SummedTasting  int64  `json:"summedTasting"`
	Drift          bool   `json:"drift"`
}

// FromAuditResult converts an audit result.
func FromAuditResult(r ledger.AuditResult) AuditResultResponse {
	return AuditResultResponse{
		ProductID:      r.ProductID.String(),
		CachedSellable: r.CachedSellable,
		SummedSellable: r.SummedSellable,
		CachedTasting:  r.CachedTasting,
		SummedTasting:  r.SummedTasting,
		Drift:          r.Drift,
	}
}
