package product

import "errors"

var ErrNotFound = errors.New("product not found")

// Product is a catalog entry. Order items snapshot these fields at checkout;
// later catalog edits never touch existing orders.
type Product struct {
	ID           int     `json:"productId"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Image        string  `json:"image"`
	Category     string  `json:"category"`
	CountInStock int     `json:"countInStock"`
	CreatedAt    string  `json:"createdAt,omitempty"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
}
