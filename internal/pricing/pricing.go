// Package pricing computes the price a product sells for at a given instant.
package pricing

import (
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/models"

	"github.com/shopspring/decimal"
)

// MaxDiscountPercentage is the largest discount a product may carry.
const MaxDiscountPercentage = 50

var hundred = decimal.NewFromInt(100)

// Active reports whether d applies at instant at. Both window bounds are inclusive.
func Active(d *models.Discount, at time.Time) bool {
	if d == nil || d.Percentage <= 0 || d.StartDate == nil || d.EndDate == nil {
		return false
	}
	return !at.Before(*d.StartDate) && !at.After(*d.EndDate)
}

// EffectivePrice returns the unit price of p at instant at.
// The discounted amount is rounded half away from zero to whole minor units.
func EffectivePrice(p *models.Product, at time.Time) int64 {
	if !Active(p.Discount, at) {
		return p.Price
	}
	price := decimal.NewFromInt(p.Price)
	off := price.Mul(decimal.NewFromInt(int64(p.Discount.Percentage))).Div(hundred)
	return price.Sub(off).Round(0).IntPart()
}

// ValidateDiscount rejects discount rules that cannot be stored.
func ValidateDiscount(d *models.Discount) error {
	if d == nil {
		return nil
	}
	if d.Percentage < 0 || d.Percentage > MaxDiscountPercentage {
		return apperrors.Invalid("discount percentage must be between 0 and %d", MaxDiscountPercentage)
	}
	if d.StartDate == nil || d.EndDate == nil {
		return apperrors.Invalid("discount requires start_date and end_date")
	}
	if d.EndDate.Before(*d.StartDate) {
		return apperrors.Invalid("discount end_date must not precede start_date")
	}
	return nil
}
