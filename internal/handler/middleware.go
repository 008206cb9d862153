package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gamegroup/internal/auth"
	"gamegroup/internal/models"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxRequestID = "RequestID"
	ctxIdentity  = "Identity"
)

// RequestID propagates or assigns a request id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)

		c.Next()
	}
}

// AccessLog logs each request once it completes and records its latency.
func (h *Handler) AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		h.metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), latency.Seconds())

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.log.Log(c.Request.Context(), level, "request",
			slog.String("request_id", c.GetString(ctxRequestID)),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", latency),
		)
	}
}

// AuthMiddleware resolves the bearer session token into an identity.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "handler.AuthMiddleware"

		log := h.requestLog(c, op)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			newErrorResponse(c, http.StatusUnauthorized, "empty authorization header")

			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			newErrorResponse(c, http.StatusUnauthorized, "invalid authorization header")

			return
		}

		identity, err := h.serviceLayer.ValidateSession(parts[1])
		if err != nil {
			log.Info("rejected session token", slog.Any("error", err))

			if errors.Is(err, auth.ErrExpired) {
				newErrorResponse(c, http.StatusUnauthorized, "token has expired")

				return
			}
			newErrorResponse(c, http.StatusUnauthorized, "invalid token")

			return
		}

		c.Set(ctxIdentity, identity)

		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFrom(c)
		if !ok {
			newErrorResponse(c, http.StatusUnauthorized, "not authenticated")

			return
		}

		if !identity.Role.Allows(role) {
			newErrorResponse(c, http.StatusForbidden, role.String()+" access required")

			return
		}

		c.Next()
	}
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return auth.Identity{}, false
	}

	identity, ok := v.(auth.Identity)
	return identity, ok
}
