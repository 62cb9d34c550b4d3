package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/models"
	"tienda/internal/pricing"
	"tienda/internal/repositories"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ProductView is a product together with the price it sells for right now.
type ProductView struct {
	models.Product
	EffectivePrice int64 `json:"effective_price"`
}

// ProductPage is one page of the catalogue.
type ProductPage struct {
	Products []ProductView   `json:"products"`
	Meta     models.PageMeta `json:"meta"`
}

// ProductService handles business logic related to products.
type ProductService struct {
	repo       repositories.ProductRepository
	stock      repositories.InventoryRepository
	categories repositories.CategoryRepository
	validate   *validator.Validate
	log        *zap.Logger
	now        func() time.Time
}

// NewProductService creates a new ProductService.
func NewProductService(repo repositories.ProductRepository, stock repositories.InventoryRepository, categories repositories.CategoryRepository, log *zap.Logger) *ProductService {
	return &ProductService{
		repo:       repo,
		stock:      stock,
		categories: categories,
		validate:   validator.New(),
		log:        log,
		now:        time.Now,
	}
}

// GetProducts retrieves one page of products priced at the current instant,
// optionally narrowed to one category.
func (s *ProductService) GetProducts(ctx context.Context, filter models.ProductFilter, page models.Pagination) (*ProductPage, error) {
	page = normalizePage(page)
	products, total, err := s.repo.GetAll(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	at := s.now()
	views := make([]ProductView, 0, len(products))
	for i := range products {
		views = append(views, ProductView{Product: products[i], EffectivePrice: pricing.EffectivePrice(&products[i], at)})
	}
	return &ProductPage{Products: views, Meta: models.NewPageMeta(page, total)}, nil
}

// GetProduct retrieves a single product by its ID.
func (s *ProductService) GetProduct(ctx context.Context, id string) (*ProductView, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProductView{Product: *product, EffectivePrice: pricing.EffectivePrice(product, s.now())}, nil
}

// CreateProduct validates and stores a new product. Reserved stock always starts at zero.
func (s *ProductService) CreateProduct(ctx context.Context, product *models.Product) error {
	product.Reserved = 0
	if err := s.check(ctx, product); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, product); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	s.log.Info("product created", zap.String("product_id", product.ID), zap.String("name", product.Name))
	return nil
}

// UpdateProduct replaces the catalogue fields of a product. Stock is left untouched.
func (s *ProductService) UpdateProduct(ctx context.Context, product *models.Product) error {
	if err := s.check(ctx, product); err != nil {
		return err
	}
	return s.repo.Update(ctx, product)
}

// DeleteProduct deletes a product by its ID.
func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// AdjustStock adds delta units to, or removes them from, the available quantity.
func (s *ProductService) AdjustStock(ctx context.Context, id string, delta int) (*ProductView, error) {
	if delta == 0 {
		return nil, apperrors.Invalid("delta must not be zero")
	}
	if err := s.stock.Adjust(ctx, id, delta); err != nil {
		return nil, err
	}
	s.log.Info("stock adjusted", zap.String("product_id", id), zap.Int("delta", delta))
	return s.GetProduct(ctx, id)
}

func (s *ProductService) check(ctx context.Context, product *models.Product) error {
	if err := validateStruct(s.validate, product); err != nil {
		return err
	}
	if err := s.checkCategory(ctx, product); err != nil {
		return err
	}
	return pricing.ValidateDiscount(product.Discount)
}

// checkCategory requires the category to exist and to list the product's subcategory.
func (s *ProductService) checkCategory(ctx context.Context, product *models.Product) error {
	product.Subcategory = strings.TrimSpace(product.Subcategory)
	if product.CategoryID != nil && *product.CategoryID == "" {
		product.CategoryID = nil
	}
	if product.CategoryID == nil {
		if product.Subcategory != "" {
			return apperrors.Invalid("subcategory %q requires a category_id", product.Subcategory)
		}
		return nil
	}

	category, err := s.categories.GetByID(ctx, *product.CategoryID)
	if errors.Is(err, apperrors.ErrCategoryNotFound) {
		return apperrors.Invalid("unknown category %s", *product.CategoryID)
	}
	if err != nil {
		return err
	}
	if product.Subcategory != "" && !category.HasSubcategory(product.Subcategory) {
		return apperrors.Invalid("category %s has no subcategory %q", category.Name, product.Subcategory)
	}
	return nil
}

// validateStruct runs validator tags on v and reports failures as invalid input.
func validateStruct(validate *validator.Validate, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make([]string, 0, len(verrs))
		for _, e := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on '%s'", e.Field(), e.Tag()))
		}
		return apperrors.Invalid("%s", strings.Join(fields, "; "))
	}
	return apperrors.Invalid("%v", err)
}
