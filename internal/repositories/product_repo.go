package repositories

import (
	"context"

	"tienda/internal/models"
)

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	GetAll(ctx context.Context, filter models.ProductFilter, page models.Pagination) ([]models.Product, int64, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	// Update writes catalogue fields only; stock counters change through InventoryRepository.
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error
	// CountInCategory counts products in categoryID, restricted to the given subcategories when any are named.
	CountInCategory(ctx context.Context, categoryID string, subcategories ...string) (int64, error)
}

// InventoryRepository moves stock between the available and reserved counters of a product.
// Every method is a single conditional write so no caller can observe a negative counter.
type InventoryRepository interface {
	// Reserve moves qty from available to reserved if at least qty is available.
	Reserve(ctx context.Context, productID string, qty int) error
	// Release moves qty from reserved back to available.
	Release(ctx context.Context, productID string, qty int) error
	// Commit consumes qty reserved units once payment is captured.
	Commit(ctx context.Context, productID string, qty int) error
	// Restock adds qty to available, e.g. after a refunded order or a delivery from a supplier.
	Restock(ctx context.Context, productID string, qty int) error
	// Adjust applies delta to available, refusing to go below zero.
	Adjust(ctx context.Context, productID string, delta int) error
}
