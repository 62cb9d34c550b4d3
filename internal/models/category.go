package models

import (
	"slices"
	"strings"
	"time"
)

// Category groups products. Subcategories are free-form labels products may carry.
type Category struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name          string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null" validate:"required,max=100"`
	Subcategories []string  `json:"subcategories" gorm:"serializer:json"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasSubcategory reports whether name is one of the category's subcategories.
func (c *Category) HasSubcategory(name string) bool {
	return slices.Contains(c.Subcategories, name)
}

// NormalizeSubcategories trims names, drops empty ones and removes duplicates, keeping first-seen order.
func NormalizeSubcategories(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}
