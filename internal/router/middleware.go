package router

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"julianmorley.ca/con-plar/megamart/pkg/cart"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/models"
)

const (
	sessionHeader   = "X-Session-ID"
	adminHeader     = "X-Admin-Token"
	requestIDHeader = "X-Request-ID"

	ctxSessionID = "session_id"
	ctxOwner     = "owner"
	ctxRequestID = "request_id"
)

var sessionIDShape = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("request_id", c.GetString(ctxRequestID)))
	}
}

// Identity resolves X-Session-ID to the caller: the bound account after
// login, otherwise the anonymous session.
func Identity(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(sessionHeader)
		if !sessionIDShape.MatchString(sessionID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, global.ErrorResponse("Session id required",
				global.FieldError(sessionHeader, "header must be 8-128 letters, digits, '-' or '_'", "invalid_session")))
			return
		}

		owner, err := carts.Identify(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, global.ErrorResponse("Session store unavailable", nil))
			return
		}

		c.Set(ctxSessionID, sessionID)
		c.Set(ctxOwner, owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) models.Owner {
	owner, _ := c.MustGet(ctxOwner).(models.Owner)
	return owner
}

// AdminOnly guards catalog and promo administration. An empty token
// disables the admin surface.
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.GetHeader(adminHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, global.ErrorResponse("Admin token required",
				global.FieldError(adminHeader, "missing or invalid admin token", "unauthorized")))
			return
		}
		c.Next()
	}
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "/") {
			if ip := net.ParseIP(raw); ip != nil && ip.To4() != nil {
				raw += "/32"
			} else {
				raw += "/128"
			}
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("webhook allow-list entry %q: %w", raw, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// WebhookAllowList rejects webhook calls from outside the gateway's
// published ranges. An empty list allows every source.
func WebhookAllowList(nets []*net.IPNet, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(nets) == 0 {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		logger.Warn("webhook from address outside allow-list", slog.String("ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "forbidden"})
	}
}
