package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/mongo"
	"julianmorley.ca/con-plar/megamart/pkg/pricing"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

const healthTimeout = 2 * time.Second

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "OK", "database": "Connected"}
	healthy := true
	if err := h.Store.Ping(ctx); err != nil {
		status["database"] = "Unavailable"
		healthy = false
	}
	for _, check := range h.Checks {
		if err := check.Ping(ctx); err != nil {
			status[check.Name] = "Unavailable"
			healthy = false
			continue
		}
		status[check.Name] = "Connected"
	}

	if !healthy {
		status["status"] = "DEGRADED"
		c.JSON(http.StatusServiceUnavailable, global.APIResponse{Success: false, Data: status, Message: "Dependency unavailable"})
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(status))
}

func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	product, err := h.Store.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(product))
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !req.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid price",
			global.FieldError("price", "price must be greater than zero", "invalid_price")))
		return
	}

	product := req.ToProduct()
	if err := h.Store.CreateProduct(c.Request.Context(), product); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, global.ErrorResponse("Product already exists",
				global.FieldError("sku", "a product with this SKU already exists", "duplicate")))
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, global.SuccessResponse(product))
}

func (h *Handler) SetStock(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req models.SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.Store.SetStock(ctx, id, *req.StockQuantity); err != nil {
		h.respondError(c, err)
		return
	}
	product, err := h.Store.GetProduct(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(product))
}

func (h *Handler) GetInventoryLogs(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid limit",
			global.FieldError("limit", "limit must be between 1 and 500", "invalid_format")))
		return
	}

	logs, err := h.Audit.InventoryHistory(c.Request.Context(), id, limit)
	if err != nil {
		h.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(logs))
}

func (h *Handler) GetOrderEvents(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	docs, err := h.Audit.OrderEvents(c.Request.Context(), id)
	if err != nil {
		h.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(docs))
}

func (h *Handler) auditError(c *gin.Context, err error) {
	if mongo.IsNotConfigured(err) {
		c.JSON(http.StatusNotImplemented, global.ErrorResponse("Audit trail is disabled", nil))
		return
	}
	h.respondError(c, err)
}

func (h *Handler) CreatePromo(c *gin.Context) {
	var req models.CreatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if errs := validatePromo(&req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid promo code", errs))
		return
	}

	promo := req.ToPromo()
	if err := h.Store.CreatePromo(c.Request.Context(), promo); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, global.ErrorResponse("Promo code already exists",
				global.FieldError("code", "a promo with this code already exists", "duplicate")))
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, global.SuccessResponse(promo))
}

var hundred = decimal.NewFromInt(100)

func validatePromo(req *models.CreatePromoRequest) []global.ValidationError {
	var errs []global.ValidationError
	if code := models.NormalizePromoCode(req.Code); code == "" || pricing.CheckCode(code) != nil {
		errs = append(errs, global.ValidationError{Field: "code", Message: "code must be 1-32 letters, digits, '-' or '_'", Code: "invalid_format"})
	}
	switch req.DiscountType {
	case models.DiscountPercent:
		if !req.Value.IsPositive() || req.Value.GreaterThan(hundred) {
			errs = append(errs, global.ValidationError{Field: "value", Message: "percent discounts must be greater than 0 and at most 100", Code: "invalid_value"})
		}
	case models.DiscountFixed:
		if !req.Value.IsPositive() {
			errs = append(errs, global.ValidationError{Field: "value", Message: "fixed discounts must be greater than zero", Code: "invalid_value"})
		}
	default:
		errs = append(errs, global.ValidationError{Field: "discount_type", Message: "discount_type must be percent or fixed", Code: "invalid_type"})
	}
	return errs
}

func (h *Handler) GetPromo(c *gin.Context) {
	code := models.NormalizePromoCode(c.Param("code"))
	promo, err := h.Store.GetPromo(c.Request.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, global.ErrorResponse("Promo code not found",
			global.FieldError("code", "no promo exists with this code", "not_found")))
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(promo))
}
