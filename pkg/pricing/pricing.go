package pricing

import (
	"errors"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrMalformedPromo = errors.New("promo code is malformed")
)

const (
	RejectNotFound  = "promo_not_found"
	RejectInactive  = "promo_inactive"
	RejectExpired   = "promo_expired"
	RejectExhausted = "promo_exhausted"
)

var (
	hundred   = decimal.NewFromInt(100)
	codeShape = regexp.MustCompile(`^[A-Z0-9_-]{1,32}$`)
)

// Line is one cart line priced at the product's current price.
type Line struct {
	ProductID int64
	Price     decimal.Decimal
	Quantity  int
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Quote struct {
	Total    decimal.Decimal
	Discount decimal.Decimal
	Final    decimal.Decimal
	// AppliedCode is empty when no promo contributed to Discount.
	AppliedCode string
	Rejection   *models.PromoRejection
}

// CheckCode validates the shape of a normalized code. An empty code is valid
// and means no promo.
func CheckCode(code string) error {
	if code == "" || codeShape.MatchString(code) {
		return nil
	}
	return ErrMalformedPromo
}

// Validate returns nil when the promo may be applied at now.
func Validate(promo *models.PromoCode, now time.Time) *models.PromoRejection {
	switch {
	case !promo.IsActive:
		return &models.PromoRejection{Code: RejectInactive, Reason: "promo code " + promo.Code + " is not active"}
	case promo.ExpiresAt != nil && !now.Before(*promo.ExpiresAt):
		return &models.PromoRejection{Code: RejectExpired, Reason: "promo code " + promo.Code + " has expired"}
	case promo.TimesUsed >= promo.MaxUses:
		return &models.PromoRejection{Code: RejectExhausted, Reason: "promo code " + promo.Code + " has reached its usage limit"}
	}
	return nil
}

// Discount returns the promo's discount on total, capped at total, unrounded.
func Discount(total decimal.Decimal, promo *models.PromoCode) decimal.Decimal {
	var d decimal.Decimal
	switch promo.DiscountType {
	case models.DiscountPercent:
		d = total.Mul(promo.Value).Div(hundred)
	case models.DiscountFixed:
		d = promo.Value
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(total) {
		return total
	}
	return d
}

// Evaluate prices lines and applies the promo named by code. promo is the
// stored record for code, or nil when none exists. An unusable promo is
// dropped and reported in Quote.Rejection; it never fails the quote.
func Evaluate(lines []Line, code string, promo *models.PromoCode, now time.Time) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyCart
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}

	q := Quote{Total: Round(total), Discount: decimal.Zero}
	if code != "" {
		switch {
		case promo == nil:
			q.Rejection = &models.PromoRejection{Code: RejectNotFound, Reason: "promo code " + code + " does not exist"}
		default:
			if rej := Validate(promo, now); rej != nil {
				q.Rejection = rej
			} else {
				q.Discount = Round(Discount(total, promo))
				q.AppliedCode = promo.Code
			}
		}
	}

	if q.Discount.GreaterThan(q.Total) {
		q.Discount = q.Total
	}
	q.Final = q.Total.Sub(q.Discount)
	if q.Final.IsNegative() {
		q.Final = decimal.Zero
	}
	return q, nil
}

// Round applies half-up rounding to two fractional digits. Amounts here are
// never negative, so decimal's half-away-from-zero is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
