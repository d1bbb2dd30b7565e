package dto

import (
	"time"

	"siphon/internal/domain/channel"
)

// CreateMappingRequest adds a channel mapping.
type CreateMappingRequest struct {
	ProductID         string `json:"productId" binding:"required"`
	ExternalCatalogID string `json:"externalCatalogId" binding:"required"`
	DisplayName       string `json:"displayName"`
}

// UpdateMappingRequest modifies a channel mapping.
type UpdateMappingRequest struct {
	ExternalCatalogID string `json:"externalCatalogId" binding:"required"`
	DisplayName       string `json:"displayName"`
}

// MappingResponse is one channel mapping.
type MappingResponse struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"productId"`
	ExternalCatalogID string    `json:"externalCatalogId"`
	DisplayName       string    `json:"displayName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// FromMapping converts a mapping.
func FromMapping(m channel.Mapping) MappingResponse {
	return MappingResponse{
		ID:                m.ID.String(),
		ProductID:         m.ProductID.String(),
		ExternalCatalogID: m.ExternalCatalogID,
		DisplayName:       m.DisplayName,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// WebhookEventRequest is one sale notification from the POS webhook.
type WebhookEventRequest struct {
	ExternalTransactionID string    `json:"externalTransactionId" binding:"required"`
	ExternalCatalogID     string    `json:"externalCatalogId" binding:"required"`
	Quantity              int64     `json:"quantity" binding:"required"`
	AmountMinor           int64     `json:"amountMinor"`
	OccurredAt            time.Time `json:"occurredAt" binding:"required"`
}

// WebhookResponse acknowledges intake. Duplicate reports accepted=false.
type WebhookResponse struct {
	Accepted bool `json:"accepted"`
}

// PendingEventResponse is one pending event.
type PendingEventResponse struct {
	ID                    string     `json:"id"`
	ExternalTransactionID string     `json:"externalTransactionId"`
	ExternalCatalogID     string     `json:"externalCatalogId"`
	ProductID             string     `json:"productId,omitempty"`
	Quantity              int64      `json:"quantity"`
	AmountMinor           int64      `json:"amountMinor"`
	OccurredAt            time.Time  `json:"occurredAt"`
	State                 string     `json:"state"`
	CreatedAt             time.Time  `json:"createdAt"`
	AppliedAt             *time.Time `json:"appliedAt,omitempty"`
}

// FromPendingEvent converts a pending event.
func FromPendingEvent(e channel.PendingEvent) PendingEventResponse {
	resp := PendingEventResponse{
		ID:                    e.ID.String(),
		ExternalTransactionID: e.ExternalTransactionID,
		ExternalCatalogID:     e.ExternalCatalogID,
		Quantity:              e.Quantity,
		AmountMinor:           int64(e.AmountMinor),
		OccurredAt:            e.OccurredAt,
		State:                 string(e.State),
		CreatedAt:             e.CreatedAt,
		AppliedAt:             e.AppliedAt,
	}
	if e.ProductID != nil {
		resp.ProductID = e.ProductID.String()
	}
	return resp
}

// BacklogResponse is the event count per state.
type BacklogResponse struct {
	Unmatched int64 `json:"unmatched"`
	Matched   int64 `json:"matched"`
	Applied   int64 `json:"applied"`
}

// FromBacklog converts per-state counts.
func FromBacklog(counts map[channel.EventState]int64) BacklogResponse {
	return BacklogResponse{
		Unmatched: counts[channel.StateUnmatched],
		Matched:   counts[channel.StateMatched],
		Applied:   counts[channel.StateApplied],
	}
}
