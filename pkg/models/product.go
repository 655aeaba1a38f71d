package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product is the subset of the catalog entry the order engine reads. Stock is
// only decremented by the checkout transaction while it holds the row lock.
type Product struct {
	ID            int64           `json:"id" db:"id"`
	SKU           string          `json:"sku" db:"sku"`
	Name          string          `json:"name" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	StockQuantity int             `json:"stock_quantity" db:"stock_quantity"`
}

func (p *Product) IsInStock() bool {
	return p.StockQuantity > 0
}

// CanFulfil reports whether the advisory stock covers quantity.
func (p *Product) CanFulfil(quantity int) bool {
	return p.StockQuantity >= quantity
}

type CreateProductRequest struct {
	SKU           string          `json:"sku" binding:"required,min=3,max=50"`
	Name          string          `json:"name" binding:"required,min=2,max=200"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity" binding:"gte=0"`
}

func (req *CreateProductRequest) ToProduct() *Product {
	return &Product{
		SKU:           strings.ToUpper(strings.TrimSpace(req.SKU)),
		Name:          strings.TrimSpace(req.Name),
		Price:         req.Price.Round(2),
		StockQuantity: req.StockQuantity,
	}
}

type SetStockRequest struct {
	StockQuantity *int `json:"stock_quantity" binding:"required,gte=0"`
}
