package models

import "github.com/shopspring/decimal"

// CartLine is one product and quantity in a cart. At most one line exists per
// owner and product, and Quantity is at least 1.
type CartLine struct {
	ProductID int64 `json:"product_id" db:"product_id"`
	Quantity  int   `json:"quantity" db:"quantity"`
}

type CartItemView struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	InStock   bool            `json:"in_stock"`
}

type CartView struct {
	Owner          string          `json:"owner"`
	Items          []CartItemView  `json:"items"`
	ItemCount      int             `json:"item_count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	PromoCode      string          `json:"promo_code,omitempty"`
	PromoRejection *PromoRejection `json:"promo_rejection,omitempty"`
}

// PromoRejection explains why a supplied code was dropped.
type PromoRejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type AddToCartRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=0"`
}
