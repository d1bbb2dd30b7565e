package channel

import (
	"context"

	"siphon/internal/core/id"
	"siphon/pkg/logger"
)

// MappingService provides CRUD over channel mappings.
// Uniqueness (one per product, one per external catalog id) is enforced by
// the repository's constraints; violations come back naming the field.
type MappingService struct {
	repo MappingRepository
}

// NewMappingService creates a new mapping service.
func NewMappingService(repo MappingRepository) *MappingService {
	return &MappingService{repo: repo}
}

// Create adds a mapping.
func (s *MappingService) Create(ctx context.Context, productID id.ID, externalCatalogID, displayName string) (*Mapping, error) {
	m := NewMapping(productID, externalCatalogID, displayName)
	if err := m.Validate(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	logger.Info(ctx, "channel mapping created",
		"mapping_id", m.ID,
		"product_id", m.ProductID,
		"external_catalog_id", m.ExternalCatalogID,
	)
	return m, nil
}

// Update modifies a mapping's external catalog id or display name.
func (s *MappingService) Update(ctx context.Context, mappingID id.ID, externalCatalogID, displayName string) (*Mapping, error) {
	m, err := s.repo.GetByID(ctx, mappingID)
	if err != nil {
		return nil, err
	}

	m.ExternalCatalogID = externalCatalogID
	m.DisplayName = displayName
	if err := m.Validate(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}

	logger.Info(ctx, "channel mapping updated", "mapping_id", m.ID)
	return m, nil
}

// Delete removes a mapping. Pending events that referenced its external id
// simply stay unmatched until a new mapping appears.
func (s *MappingService) Delete(ctx context.Context, mappingID id.ID) error {
	if _, err := s.repo.GetByID(ctx, mappingID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, mappingID); err != nil {
		return err
	}

	logger.Info(ctx, "channel mapping deleted", "mapping_id", mappingID)
	return nil
}

// Get retrieves a mapping by id.
func (s *MappingService) Get(ctx context.Context, mappingID id.ID) (*Mapping, error) {
	return s.repo.GetByID(ctx, mappingID)
}

// List returns all mappings.
func (s *MappingService) List(ctx context.Context) ([]Mapping, error) {
	return s.repo.List(ctx)
}
