package router

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/megamart/internal/checkout"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/models"
)

const (
	paymentPending = "pending"
	paymentRetry   = "retry"
	paymentPaid    = "paid"

	maxWebhookBody = 64 << 10
)

type checkoutResponse struct {
	Order          models.Order           `json:"order"`
	Lines          []models.OrderLine     `json:"lines"`
	PaymentURL     string                 `json:"payment_url,omitempty"`
	PaymentStatus  string                 `json:"payment_status"`
	PromoRejection *models.PromoRejection `json:"promo_rejection,omitempty"`
}

type paymentResponse struct {
	Order         models.Order `json:"order"`
	PaymentURL    string       `json:"payment_url,omitempty"`
	PaymentStatus string       `json:"payment_status"`
}

func paymentStatus(order models.Order, paymentErr error) string {
	switch {
	case paymentErr != nil:
		return paymentRetry
	case order.Status == models.StatusPaid:
		return paymentPaid
	}
	return paymentPending
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	owner := ownerFrom(c)
	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" && owner.IsAccount() {
		account, err := h.Store.GetAccount(ctx, owner.AccountID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		address = account.Address
	}

	res, err := h.Checkout.PlaceOrder(ctx, checkout.Request{
		Source:          h.Carts.Source(owner),
		ShippingAddress: address,
		PromoCode:       req.PromoCode,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, global.SuccessResponse(checkoutResponse{
		Order:          res.Order,
		Lines:          res.Lines,
		PaymentURL:     res.PaymentURL,
		PaymentStatus:  paymentStatus(res.Order, res.PaymentErr),
		PromoRejection: res.PromoRejection,
	}))
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, lines, err := h.Checkout.Order(c.Request.Context(), id, ownerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(models.OrderWithLines{Order: order, Lines: lines}))
}

// PayOrder retries payment initiation for a Pending order.
func (h *Handler) PayOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, url, err := h.Checkout.InitiatePayment(c.Request.Context(), id, ownerFrom(c))
	if err != nil && order.ID == 0 {
		h.respondError(c, err)
		return
	}
	if err != nil && !order.CanInitiatePayment() {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	c.JSON(status, global.APIResponse{
		Success: err == nil,
		Data:    paymentResponse{Order: order, PaymentURL: url, PaymentStatus: paymentStatus(order, err)},
	})
}

// PaymentWebhook always acknowledges so the gateway stops redelivering,
// except when the update could not be recorded because of a transient
// storage failure.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	outcome := h.Webhook.Process(c.Request.Context(), body)
	if outcome.Retry() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
