package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/megamart/internal/checkout"
	"julianmorley.ca/con-plar/megamart/pkg/cart"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

// respondError maps domain errors onto the response envelope.
func (h *Handler) respondError(c *gin.Context, err error) {
	var stockErr *models.InsufficientStockError
	var unavailable *checkout.ProductUnavailableError

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, global.ErrorResponse(stockErr.Error(),
			global.FieldError("product_id", "only "+strconv.Itoa(stockErr.Available)+" of "+stockErr.ProductName+" available", "insufficient_stock")))
	case errors.As(err, &unavailable):
		c.JSON(http.StatusConflict, global.ErrorResponse(unavailable.Error(),
			global.FieldError("product_id", "remove the product from the cart", "product_unavailable")))
	case errors.Is(err, checkout.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Cart is empty", global.FieldError("cart", err.Error(), "empty_cart")))
	case errors.Is(err, cart.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, global.ErrorResponse("Checkout already in progress", global.FieldError("cart", err.Error(), "checkout_in_progress")))
	case errors.Is(err, checkout.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid shipping address",
			global.FieldError("shipping_address", "shipping address is required and at most 500 characters", "invalid_address")))
	case errors.Is(err, checkout.ErrMalformedPromo):
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid promo code",
			global.FieldError("promo_code", "promo codes are 1-32 letters, digits, '-' or '_'", "invalid_format")))
	case errors.Is(err, cart.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid quantity", global.FieldError("quantity", err.Error(), "invalid_quantity")))
	case errors.Is(err, cart.ErrProductNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, global.ErrorResponse("Product not found", global.FieldError("product_id", "no product exists with this id", "not_found")))
	case errors.Is(err, cart.ErrLineNotFound):
		c.JSON(http.StatusNotFound, global.ErrorResponse("Item not in cart", global.FieldError("product_id", err.Error(), "not_found")))
	case errors.Is(err, checkout.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, global.ErrorResponse("Order not found", global.FieldError("id", "no order with this id", "not_found")))
	case errors.Is(err, checkout.ErrOrderNotPending):
		c.JSON(http.StatusConflict, global.ErrorResponse("Order is not awaiting payment", global.FieldError("id", err.Error(), "order_not_pending")))
	case errors.Is(err, checkout.ErrTransient), store.IsTransient(err):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, global.ErrorResponse("Please try again", nil))
	default:
		h.Logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("request_id", c.GetString(ctxRequestID)),
			slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, global.ErrorResponse("Internal server error", nil))
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid request body",
		global.FieldError("body", err.Error(), "invalid_body")))
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid id",
			global.FieldError(name, "must be a positive integer", "invalid_format")))
		return 0, false
	}
	return id, true
}
