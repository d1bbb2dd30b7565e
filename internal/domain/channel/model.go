// Package channel handles point-of-sale integration: catalog mappings,
// pending event intake, and the reconciliation job that applies events to
// the stock ledger exactly once.
package channel

import (
	"context"
	"strings"
	"time"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
	"siphon/internal/core/types"
)

// Mapping associates an external point-of-sale catalog id with a product.
// Two uniqueness invariants hold: one mapping per product, one mapping per
// external catalog id.
type Mapping struct {
	ID                id.ID     `db:"id" json:"id"`
	ProductID         id.ID     `db:"product_id" json:"productId"`
	ExternalCatalogID string    `db:"external_catalog_id" json:"externalCatalogId"`
	DisplayName       string    `db:"display_name" json:"displayName,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// NewMapping creates a mapping with a generated id.
func NewMapping(productID id.ID, externalCatalogID, displayName string) *Mapping {
	now := time.Now().UTC()
	return &Mapping{
		ID:                id.New(),
		ProductID:         productID,
		ExternalCatalogID: externalCatalogID,
		DisplayName:       displayName,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate checks required fields.
func (m *Mapping) Validate(ctx context.Context) error {
	if id.IsNil(m.ProductID) {
		return apperror.NewValidation("product is required").
			WithDetail("field", "productId")
	}
	if strings.TrimSpace(m.ExternalCatalogID) == "" {
		return apperror.NewValidation("externalCatalogId is required").
			WithDetail("field", "externalCatalogId")
	}
	return nil
}

// EventState is the pending event lifecycle: unmatched -> matched -> applied.
// The state column plus transition guards below keep illegal combinations
// (applied without a product) out of the data.
type EventState string

const (
	// StateUnmatched: no mapping existed at intake time; waiting for one.
	StateUnmatched EventState = "unmatched"
	// StateMatched: product known, ledger movement not yet written.
	StateMatched EventState = "matched"
	// StateApplied: ledger movement written; terminal.
	StateApplied EventState = "applied"
)

// PendingEvent is an externally received sale notification. Created once by
// intake, mutated exactly twice at most: matched by the reconciler, then
// applied. Never reopened.
type PendingEvent struct {
	ID                    id.ID            `db:"id" json:"id"`
	ExternalTransactionID string           `db:"external_transaction_id" json:"externalTransactionId"`
	ExternalCatalogID     string           `db:"external_catalog_id" json:"externalCatalogId"`
	ProductID             *id.ID           `db:"product_id" json:"productId,omitempty"`
	Quantity              int64            `db:"quantity" json:"quantity"`
	AmountMinor           types.MinorUnits `db:"amount_minor" json:"amountMinor"`
	OccurredAt            time.Time        `db:"occurred_at" json:"occurredAt"`
	State                 EventState       `db:"state" json:"state"`
	CreatedAt             time.Time        `db:"created_at" json:"createdAt"`
	AppliedAt             *time.Time       `db:"applied_at" json:"appliedAt,omitempty"`
}

// NewPendingEvent creates an event in the unmatched state.
func NewPendingEvent(externalTransactionID, externalCatalogID string, quantity int64, amountMinor types.MinorUnits, occurredAt time.Time) *PendingEvent {
	return &PendingEvent{
		ID:                    id.New(),
		ExternalTransactionID: externalTransactionID,
		ExternalCatalogID:     externalCatalogID,
		Quantity:              quantity,
		AmountMinor:           amountMinor,
		OccurredAt:            occurredAt,
		State:                 StateUnmatched,
		CreatedAt:             time.Now().UTC(),
	}
}

// Validate checks intake input.
func (e *PendingEvent) Validate(ctx context.Context) error {
	if strings.TrimSpace(e.ExternalTransactionID) == "" {
		return apperror.NewValidation("externalTransactionId is required").
			WithDetail("field", "externalTransactionId")
	}
	if strings.TrimSpace(e.ExternalCatalogID) == "" {
		return apperror.NewValidation("externalCatalogId is required").
			WithDetail("field", "externalCatalogId")
	}
	if e.Quantity <= 0 {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity")
	}
	if e.AmountMinor.IsNegative() {
		return apperror.NewValidation("amountMinor must not be negative").
			WithDetail("field", "amountMinor")
	}
	if e.OccurredAt.IsZero() {
		return apperror.NewValidation("occurredAt is required").
			WithDetail("field", "occurredAt")
	}
	return nil
}

// Match back-fills the product. Legal only from the unmatched state.
func (e *PendingEvent) Match(productID id.ID) error {
	if e.State != StateUnmatched {
		return apperror.NewConflict("event is not unmatched").
			WithDetail("event_id", e.ID.String()).
			WithDetail("state", string(e.State))
	}
	if id.IsNil(productID) {
		return apperror.NewValidation("product is required to match an event")
	}
	e.ProductID = &productID
	e.State = StateMatched
	return nil
}

// MarkApplied flips the event to its terminal state. Legal only from
// matched, which guarantees the product is set.
func (e *PendingEvent) MarkApplied() error {
	if e.State != StateMatched || e.ProductID == nil {
		return apperror.NewConflict("event is not ready to apply").
			WithDetail("event_id", e.ID.String()).
			WithDetail("state", string(e.State))
	}
	now := time.Now().UTC()
	e.State = StateApplied
	e.AppliedAt = &now
	return nil
}
