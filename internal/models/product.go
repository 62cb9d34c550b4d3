package models

import (
	"time"

	"gorm.io/gorm"
)

// Discount is a percentage reduction that applies inside [StartDate, EndDate].
type Discount struct {
	Percentage int        `json:"percentage" validate:"gte=0,lte=50"`
	StartDate  *time.Time `json:"start_date" validate:"required"`
	EndDate    *time.Time `json:"end_date" validate:"required"`
}

// Product represents a product in the store. Prices are integer minor currency units.
type Product struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string    `json:"name" gorm:"type:varchar(100);index" validate:"required,min=3,max=100"`
	Description string    `json:"description" validate:"omitempty,max=500"`
	Price       int64     `json:"price" gorm:"not null" validate:"required,gt=0"`
	Available   int       `json:"available" gorm:"not null;default:0" validate:"gte=0"`
	Reserved    int       `json:"reserved" gorm:"not null;default:0" validate:"gte=0"`
	CategoryID  *string   `json:"category_id,omitempty" gorm:"type:varchar(36);index"`
	Subcategory string    `json:"subcategory,omitempty" gorm:"type:varchar(100)" validate:"omitempty,max=100"`
	Discount    *Discount `json:"discount,omitempty" gorm:"embedded;embeddedPrefix:discount_"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductFilter narrows catalogue listings. An empty CategoryID matches every product.
type ProductFilter struct {
	CategoryID string
}

// AfterFind drops the zero-valued discount GORM allocates for rows without one.
func (p *Product) AfterFind(tx *gorm.DB) error {
	if p.Discount != nil && p.Discount.StartDate == nil && p.Discount.EndDate == nil && p.Discount.Percentage == 0 {
		p.Discount = nil
	}
	return nil
}
