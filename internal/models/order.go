package models

import "time"

// OrderItem is a cart line frozen into an order.
type OrderItem struct {
	ID        uint   `json:"-" gorm:"primaryKey"`
	OrderID   string `json:"-" gorm:"type:varchar(36);index;not null"`
	ProductID string `json:"product_id" gorm:"type:varchar(36);not null"`
	Quantity  int    `json:"quantity" gorm:"not null"`
	Price     int64  `json:"price" gorm:"not null"` // Unit price captured at checkout
}

// Subtotal is quantity times the captured unit price.
func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.Price
}

// Order represents a customer order.
type Order struct {
	ID               string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID           string      `json:"user_id" gorm:"type:varchar(36);index;not null"`
	Items            []OrderItem `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	TotalAmount      int64       `json:"total_amount" gorm:"not null"`
	Currency         string      `json:"currency" gorm:"type:varchar(10);not null"`
	Status           OrderStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentSessionID *string     `json:"payment_session_id,omitempty" gorm:"uniqueIndex"`
	PaymentURL       string      `json:"payment_url,omitempty"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	CanceledAt       *time.Time  `json:"canceled_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ComputeTotal sums the line subtotals.
func ComputeTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// CartItem is a (product, quantity) pair supplied by the client.
type CartItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	UserID string
	Status OrderStatus
}

// Pagination is a 1-based page request.
type Pagination struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// OrderPage is one page of orders plus paging metadata.
type OrderPage struct {
	Orders []Order  `json:"orders"`
	Meta   PageMeta `json:"meta"`
}

// PageMeta describes where a page sits in the full result.
type PageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// NewPageMeta computes paging metadata for total matching rows.
func NewPageMeta(p Pagination, total int64) PageMeta {
	var pages int64
	if p.Limit > 0 {
		pages = (total + int64(p.Limit) - 1) / int64(p.Limit)
	}
	return PageMeta{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: pages,
		HasMore:    total > int64(p.Page*p.Limit),
	}
}
