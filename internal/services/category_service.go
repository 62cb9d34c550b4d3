package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"tienda/internal/apperrors"
	"tienda/internal/models"
	"tienda/internal/repositories"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// CategoryService manages the product categories and their subcategories.
type CategoryService struct {
	categories repositories.CategoryRepository
	products   repositories.ProductRepository
	validate   *validator.Validate
	log        *zap.Logger
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(categories repositories.CategoryRepository, products repositories.ProductRepository, log *zap.Logger) *CategoryService {
	return &CategoryService{
		categories: categories,
		products:   products,
		validate:   validator.New(),
		log:        log,
	}
}

// ListCategories returns every category ordered by name.
func (s *CategoryService) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.categories.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// GetCategory retrieves a single category by its ID.
func (s *CategoryService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	return s.categories.GetByID(ctx, id)
}

// CreateCategory validates and stores a new category.
func (s *CategoryService) CreateCategory(ctx context.Context, category *models.Category) error {
	if err := s.check(category); err != nil {
		return err
	}
	if err := s.categories.Create(ctx, category); err != nil {
		return err
	}
	s.log.Info("category created", zap.String("category_id", category.ID), zap.String("name", category.Name))
	return nil
}

// UpdateCategory renames a category or replaces its subcategories. A subcategory
// cannot be dropped while products still carry it.
func (s *CategoryService) UpdateCategory(ctx context.Context, category *models.Category) error {
	if err := s.check(category); err != nil {
		return err
	}
	existing, err := s.categories.GetByID(ctx, category.ID)
	if err != nil {
		return err
	}

	var removed []string
	for _, name := range existing.Subcategories {
		if !slices.Contains(category.Subcategories, name) {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		count, err := s.products.CountInCategory(ctx, category.ID, removed...)
		if err != nil {
			return fmt.Errorf("failed to check subcategory usage: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %d products use subcategories %s", apperrors.ErrCategoryInUse, count, strings.Join(removed, ", "))
		}
	}
	return s.categories.Update(ctx, category)
}

// DeleteCategory removes a category that no product belongs to.
func (s *CategoryService) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.categories.GetByID(ctx, id); err != nil {
		return err
	}
	count, err := s.products.CountInCategory(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check category usage: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d products in category %s", apperrors.ErrCategoryInUse, count, id)
	}
	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("category deleted", zap.String("category_id", id))
	return nil
}

func (s *CategoryService) check(category *models.Category) error {
	category.Name = strings.TrimSpace(category.Name)
	category.Subcategories = models.NormalizeSubcategories(category.Subcategories)
	return validateStruct(s.validate, category)
}
