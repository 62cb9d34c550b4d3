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

// MockCategoryRepository is an in-memory implementation of CategoryRepository.
type MockCategoryRepository struct {
	categories map[string]models.Category
	mu         sync.RWMutex
}

// NewMockCategoryRepository creates a new instance of MockCategoryRepository.
func NewMockCategoryRepository() *MockCategoryRepository {
	return &MockCategoryRepository{
		categories: make(map[string]models.Category),
	}
}

// GetAll returns every category ordered by name.
func (r *MockCategoryRepository) GetAll(ctx context.Context) ([]models.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.Category, 0, len(r.categories))
	for _, c := range r.categories {
		list = append(list, cloneCategory(c))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// GetByID returns a category by its ID.
func (r *MockCategoryRepository) GetByID(ctx context.Context, id string) (*models.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	category, ok := r.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrCategoryNotFound, id)
	}
	category = cloneCategory(category)
	return &category, nil
}

// Create adds a new category, rejecting a name that is already taken.
func (r *MockCategoryRepository) Create(ctx context.Context, category *models.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(category.Name, "") {
		return fmt.Errorf("%w: %s", apperrors.ErrCategoryExists, category.Name)
	}
	if category.ID == "" {
		category.ID = uuid.New().String()
	}
	now := time.Now()
	category.CreatedAt = now
	category.UpdatedAt = now
	r.categories[category.ID] = cloneCategory(*category)
	return nil
}

// Update replaces the name and subcategories of an existing category.
func (r *MockCategoryRepository) Update(ctx context.Context, category *models.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.categories[category.ID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrCategoryNotFound, category.ID)
	}
	if r.nameTaken(category.Name, category.ID) {
		return fmt.Errorf("%w: %s", apperrors.ErrCategoryExists, category.Name)
	}
	existing.Name = category.Name
	existing.Subcategories = slices.Clone(category.Subcategories)
	existing.UpdatedAt = time.Now()
	r.categories[category.ID] = existing
	return nil
}

// Delete removes a category by its ID.
func (r *MockCategoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.categories[id]; !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrCategoryNotFound, id)
	}
	delete(r.categories, id)
	return nil
}

func (r *MockCategoryRepository) nameTaken(name, exceptID string) bool {
	for id, c := range r.categories {
		if id != exceptID && c.Name == name {
			return true
		}
	}
	return false
}

func cloneCategory(c models.Category) models.Category {
	c.Subcategories = slices.Clone(c.Subcategories)
	return c
}
