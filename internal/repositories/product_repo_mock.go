package repositories

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/models"

	"github.com/google/uuid"
)

// MockProductRepository is an in-memory implementation of ProductRepository and InventoryRepository.
type MockProductRepository struct {
	products map[string]models.Product
	mu       sync.RWMutex
}

// NewMockProductRepository creates a new instance of MockProductRepository.
func NewMockProductRepository() *MockProductRepository {
	return &MockProductRepository{
		products: make(map[string]models.Product),
	}
}

// GetAll returns one page of products ordered by name.
func (r *MockProductRepository) GetAll(ctx context.Context, filter models.ProductFilter, page models.Pagination) ([]models.Product, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		if filter.CategoryID != "" && (p.CategoryID == nil || *p.CategoryID != filter.CategoryID) {
			continue
		}
		productList = append(productList, p)
	}
	sort.Slice(productList, func(i, j int) bool { return productList[i].Name < productList[j].Name })
	return paginate(productList, page), int64(len(productList)), nil
}

// GetByID returns a product by its ID.
func (r *MockProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, id)
	}
	return &product, nil
}

// Create adds a new product.
func (r *MockProductRepository) Create(ctx context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now
	r.products[product.ID] = *product
	return nil
}

// Update modifies the catalogue fields of an existing product.
func (r *MockProductRepository) Update(ctx context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.products[product.ID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, product.ID)
	}
	existing.Name = product.Name
	existing.Description = product.Description
	existing.Price = product.Price
	existing.CategoryID = product.CategoryID
	existing.Subcategory = product.Subcategory
	existing.Discount = product.Discount
	existing.UpdatedAt = time.Now()
	r.products[product.ID] = existing
	return nil
}

// Delete removes a product by its ID.
func (r *MockProductRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, id)
	}
	delete(r.products, id)
	return nil
}

// CountInCategory counts products in categoryID, optionally restricted to subcategories.
func (r *MockProductRepository) CountInCategory(ctx context.Context, categoryID string, subcategories ...string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, p := range r.products {
		if p.CategoryID == nil || *p.CategoryID != categoryID {
			continue
		}
		if len(subcategories) > 0 && !slices.Contains(subcategories, p.Subcategory) {
			continue
		}
		count++
	}
	return count, nil
}

// Reserve moves qty from available to reserved under the write lock.
func (r *MockProductRepository) Reserve(ctx context.Context, productID string, qty int) error {
	return r.mutate(productID, func(p *models.Product) error {
		if p.Available < qty {
			return apperrors.InsufficientStock(productID, qty, p.Available)
		}
		p.Available -= qty
		p.Reserved += qty
		return nil
	})
}

// Release moves qty from reserved back to available.
func (r *MockProductRepository) Release(ctx context.Context, productID string, qty int) error {
	return r.mutate(productID, func(p *models.Product) error {
		if p.Reserved < qty {
			return fmt.Errorf("cannot release %d units of product %s: more than reserved", qty, productID)
		}
		p.Reserved -= qty
		p.Available += qty
		return nil
	})
}

// Commit consumes qty reserved units.
func (r *MockProductRepository) Commit(ctx context.Context, productID string, qty int) error {
	return r.mutate(productID, func(p *models.Product) error {
		if p.Reserved < qty {
			return fmt.Errorf("cannot commit %d units of product %s: more than reserved", qty, productID)
		}
		p.Reserved -= qty
		return nil
	})
}

// Restock returns qty units to available.
func (r *MockProductRepository) Restock(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return apperrors.Invalid("restock quantity must not be negative")
	}
	return r.Adjust(ctx, productID, qty)
}

// Adjust applies delta to available unless that would make it negative.
func (r *MockProductRepository) Adjust(ctx context.Context, productID string, delta int) error {
	return r.mutate(productID, func(p *models.Product) error {
		if p.Available+delta < 0 {
			return apperrors.InsufficientStock(productID, -delta, p.Available)
		}
		p.Available += delta
		return nil
	})
}

func (r *MockProductRepository) mutate(productID string, fn func(p *models.Product) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, productID)
	}
	if err := fn(&product); err != nil {
		return err
	}
	product.UpdatedAt = time.Now()
	r.products[productID] = product
	return nil
}

func paginate[T any](items []T, page models.Pagination) []T {
	if page.Limit <= 0 {
		return items
	}
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
