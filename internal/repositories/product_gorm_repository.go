package repositories

import (
	"context"
	"errors"
	"fmt"

	"tienda/internal/apperrors"
	"tienda/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMProductRepository is a GORM implementation of ProductRepository and InventoryRepository.
type GORMProductRepository struct {
	db *gorm.DB
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(db *gorm.DB) *GORMProductRepository {
	return &GORMProductRepository{
		db: db,
	}
}

// GetAll retrieves one page of products ordered by name.
func (r *GORMProductRepository) GetAll(ctx context.Context, filter models.ProductFilter, page models.Pagination) ([]models.Product, int64, error) {
	var products []models.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Product{})
	if filter.CategoryID != "" {
		query = query.Where("category_id = ?", filter.CategoryID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}
	if err := query.Order("name ASC").Offset(page.Offset()).Limit(page.Limit).Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get products: %w", err)
	}
	return products, total, nil
}

// GetByID retrieves a single product by its ID from the database.
func (r *GORMProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("failed to get product by ID %s: %w", id, err)
	}
	return &product, nil
}

// Create creates a new product in the database.
func (r *GORMProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// Update updates the catalogue fields of an existing product.
func (r *GORMProductRepository) Update(ctx context.Context, product *models.Product) error {
	res := r.db.WithContext(ctx).Model(product).
		Select("name", "description", "price", "category_id", "subcategory",
			"discount_percentage", "discount_start_date", "discount_end_date", "updated_at").
		Updates(product)
	if res.Error != nil {
		return fmt.Errorf("failed to update product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, product.ID)
	}
	return nil
}

// Delete deletes a product by its ID from the database.
func (r *GORMProductRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrProductNotFound, id)
	}
	return nil
}

// CountInCategory counts the products filed under categoryID, optionally only those in subcategories.
func (r *GORMProductRepository) CountInCategory(ctx context.Context, categoryID string, subcategories ...string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Product{}).Where("category_id = ?", categoryID)
	if len(subcategories) > 0 {
		query = query.Where("subcategory IN ?", subcategories)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count products in category: %w", err)
	}
	return count, nil
}

// Reserve atomically decrements available and increments reserved.
func (r *GORMProductRepository) Reserve(ctx context.Context, productID string, qty int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND available >= ?", productID, qty).
		Updates(map[string]interface{}{
			"available": gorm.Expr("available - ?", qty),
			"reserved":  gorm.Expr("reserved + ?", qty),
		})
	if res.Error != nil {
		return fmt.Errorf("reserve failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explainMiss(ctx, productID, qty)
	}
	return nil
}

// Release atomically increments available and decrements reserved.
func (r *GORMProductRepository) Release(ctx context.Context, productID string, qty int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND reserved >= ?", productID, qty).
		Updates(map[string]interface{}{
			"available": gorm.Expr("available + ?", qty),
			"reserved":  gorm.Expr("reserved - ?", qty),
		})
	if res.Error != nil {
		return fmt.Errorf("release failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cannot release %d units of product %s: more than reserved", qty, productID)
	}
	return nil
}

// Commit permanently deducts reserved stock (payment succeeded).
func (r *GORMProductRepository) Commit(ctx context.Context, productID string, qty int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND reserved >= ?", productID, qty).
		Update("reserved", gorm.Expr("reserved - ?", qty))
	if res.Error != nil {
		return fmt.Errorf("commit failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cannot commit %d units of product %s: more than reserved", qty, productID)
	}
	return nil
}

// Restock returns qty units to the available pool.
func (r *GORMProductRepository) Restock(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return apperrors.Invalid("restock quantity must not be negative")
	}
	return r.Adjust(ctx, productID, qty)
}

// Adjust applies delta to available unless that would make it negative.
func (r *GORMProductRepository) Adjust(ctx context.Context, productID string, delta int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND available + ? >= 0", productID, delta).
		Update("available", gorm.Expr("available + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("adjust stock failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explainMiss(ctx, productID, -delta)
	}
	return nil
}

// explainMiss turns a conditional update that matched no row into not-found or insufficient stock.
func (r *GORMProductRepository) explainMiss(ctx context.Context, productID string, requested int) error {
	product, err := r.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	return apperrors.InsufficientStock(productID, requested, product.Available)
}
