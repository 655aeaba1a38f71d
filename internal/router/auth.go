package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

type loginResponse struct {
	Account     models.Account `json:"account"`
	MergedLines int            `json:"merged_lines"`
}

func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.respondError(c, err)
		return
	}
	account := &models.Account{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(req.Name),
		Address:      strings.TrimSpace(req.Address),
	}
	if err := h.Store.CreateAccount(c.Request.Context(), account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, global.ErrorResponse("Email already registered",
				global.FieldError("email", "an account with this email already exists", "duplicate")))
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, global.SuccessResponse(account))
}

// Login binds the caller's session to the account and folds the session
// cart into the account cart.
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	account, err := h.Store.GetAccountByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.respondError(c, err)
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, global.ErrorResponse("Invalid email or password",
			global.FieldError("email", "invalid email or password", "invalid_credentials")))
		return
	}

	sessionID := c.GetString(ctxSessionID)
	merged, err := h.Carts.Login(ctx, sessionID, account.ID)
	if err != nil {
		h.Logger.Error("login failed", slog.Int64("account_id", account.ID), slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, global.ErrorResponse("Could not sign in, please try again", nil))
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(loginResponse{Account: account, MergedLines: merged}))
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.Carts.Logout(c.Request.Context(), c.GetString(ctxSessionID)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(map[string]string{"status": "logged_out"}))
}
