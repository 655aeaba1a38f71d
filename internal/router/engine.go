package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/megamart/internal/checkout"
	"julianmorley.ca/con-plar/megamart/internal/webhook"
	"julianmorley.ca/con-plar/megamart/pkg/cart"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/mongo"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

// HealthCheck is one dependency reported by /api/health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Store    store.Store
	Carts    *cart.Service
	Checkout *checkout.Service
	Webhook  *webhook.Handler
	Audit    mongo.History
	Checks   []HealthCheck
	Logger   *slog.Logger
}

type Handler struct {
	Deps
}

func NewEngine(cfg global.Config, deps Deps) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if deps.Audit == nil {
		deps.Audit = mongo.NoHistory{}
	}

	allowList, err := parseCIDRs(cfg.WebhookAllowedCIDRs)
	if err != nil {
		return nil, err
	}
	if cfg.IsProduction() && len(allowList) == 0 {
		return nil, errors.New("WEBHOOK_ALLOWED_CIDRS must be set in production")
	}

	router := gin.New()
	// Forwarding headers are only believed from these peers; none by default.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), RequestID(), RequestLogger(deps.Logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", sessionHeader, adminHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	h := &Handler{Deps: deps}
	api := router.Group("/api")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/products/:id", h.GetProduct)

		identified := api.Group("")
		identified.Use(Identity(deps.Carts))
		{
			cartGroup := identified.Group("/cart")
			{
				cartGroup.GET("", h.GetCart)
				cartGroup.POST("/items", h.AddToCart)
				cartGroup.PUT("/items/:productId", h.UpdateCartItem)
				cartGroup.DELETE("/items/:productId", h.RemoveFromCart)
			}

			auth := identified.Group("/auth")
			{
				auth.POST("/register", h.Register)
				auth.POST("/login", h.Login)
				auth.POST("/logout", h.Logout)
			}

			identified.POST("/checkout", h.PlaceOrder)

			orders := identified.Group("/orders")
			{
				orders.GET("/:id", h.GetOrder)
				orders.POST("/:id/pay", h.PayOrder)
			}
		}

		payments := api.Group("/payments")
		payments.Use(WebhookAllowList(allowList, deps.Logger))
		{
			payments.POST("/webhook", h.PaymentWebhook)
		}

		admin := api.Group("/admin")
		admin.Use(AdminOnly(cfg.AdminToken))
		{
			admin.POST("/products", h.CreateProduct)
			admin.PUT("/products/:id/stock", h.SetStock)
			admin.GET("/products/:id/inventory-logs", h.GetInventoryLogs)
			admin.POST("/promos", h.CreatePromo)
			admin.GET("/promos/:code", h.GetPromo)
			admin.GET("/orders/:id/events", h.GetOrderEvents)
		}
	}
	return router, nil
}
