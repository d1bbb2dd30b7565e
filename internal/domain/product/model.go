// Package product provides the minimal product catalog the ledger needs.
// Storefront presentation (descriptions, imagery, pricing pages) lives in the
// hosted backend and is out of scope here.
package product

import (
	"context"
	"strings"
	"time"

	"siphon/internal/core/apperror"
	"siphon/internal/core/id"
)

// Product is a sellable item tracked by the stock ledger.
type Product struct {
	ID        id.ID     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewProduct creates a new active product.
func NewProduct(sku, name string) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:        id.New(),
		SKU:       sku,
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks required fields.
func (p *Product) Validate(ctx context.Context) error {
	if strings.TrimSpace(p.SKU) == "" {
		return apperror.NewValidation("sku is required").WithDetail("field", "sku")
	}
	if strings.TrimSpace(p.Name) == "" {
		return apperror.NewValidation("name is required").WithDetail("field", "name")
	}
	return nil
}

// Repository defines persistence for products.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, productID id.ID) (*Product, error)
	List(ctx context.Context, activeOnly bool) ([]Product, error)
	Exists(ctx context.Context, productID id.ID) (bool, error)
}
