package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

func (t DiscountType) Valid() bool {
	return t == DiscountPercent || t == DiscountFixed
}

// PromoCode is a discount rule. TimesUsed only moves inside a committed checkout.
type PromoCode struct {
	Code         string          `json:"code" db:"code"`
	DiscountType DiscountType    `json:"discount_type" db:"discount_type"`
	Value        decimal.Decimal `json:"value" db:"value"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	IsActive     bool            `json:"is_active" db:"is_active"`
	MaxUses      int             `json:"max_uses" db:"max_uses"`
	TimesUsed    int             `json:"times_used" db:"times_used"`
}

// NormalizePromoCode is applied to every code before lookup or storage.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CreatePromoRequest struct {
	Code         string          `json:"code" binding:"required"`
	DiscountType DiscountType    `json:"discount_type" binding:"required"`
	Value        decimal.Decimal `json:"value"`
	ExpiresAt    *time.Time      `json:"expires_at"`
	MaxUses      int             `json:"max_uses" binding:"required,gte=1"`
	IsActive     *bool           `json:"is_active"`
}

func (req *CreatePromoRequest) ToPromo() *PromoCode {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &PromoCode{
		Code:         NormalizePromoCode(req.Code),
		DiscountType: req.DiscountType,
		Value:        req.Value,
		ExpiresAt:    req.ExpiresAt,
		IsActive:     active,
		MaxUses:      req.MaxUses,
	}
}
