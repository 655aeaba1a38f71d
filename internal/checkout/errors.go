package checkout

import (
	"errors"
	"fmt"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/pricing"
)

var (
	ErrEmptyCart       = pricing.ErrEmptyCart
	ErrMalformedPromo  = pricing.ErrMalformedPromo
	ErrInvalidAddress  = errors.New("shipping address is invalid")
	ErrTransient       = errors.New("checkout could not complete, try again")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending payment")
	ErrPaymentGateway  = errors.New("payment could not be initiated")
)

type InsufficientStockError = models.InsufficientStockError

// ProductUnavailableError is a cart line whose product left the catalog.
type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is no longer available", e.ProductID)
}
