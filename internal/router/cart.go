package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/models"
)

func (h *Handler) GetCart(c *gin.Context) {
	view, err := h.Carts.View(c.Request.Context(), ownerFrom(c), c.Query("promo"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(view))
}

func (h *Handler) AddToCart(c *gin.Context) {
	var req models.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.writeCart(c, func(owner models.Owner) error {
		return h.Carts.Add(c.Request.Context(), owner, req.ProductID, req.Quantity)
	})
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	productID, ok := idParam(c, "productId")
	if !ok {
		return
	}
	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.writeCart(c, func(owner models.Owner) error {
		return h.Carts.Update(c.Request.Context(), owner, productID, *req.Quantity)
	})
}

func (h *Handler) RemoveFromCart(c *gin.Context) {
	productID, ok := idParam(c, "productId")
	if !ok {
		return
	}
	h.writeCart(c, func(owner models.Owner) error {
		return h.Carts.Remove(c.Request.Context(), owner, productID)
	})
}

// writeCart applies a cart change and answers with the repriced cart.
func (h *Handler) writeCart(c *gin.Context, change func(owner models.Owner) error) {
	owner := ownerFrom(c)
	if err := change(owner); err != nil {
		h.respondError(c, err)
		return
	}
	view, err := h.Carts.View(c.Request.Context(), owner, "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(view))
}
