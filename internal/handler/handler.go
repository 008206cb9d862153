package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"gamegroup/internal/metrics"
	"gamegroup/internal/models"
	"gamegroup/internal/service"
)

// Shown for every verification rejection so callers cannot tell which
// links or addresses exist.
const invalidLinkMessage = "invalid or expired link"

type Options struct {
	AllowOrigins []string
	// Login link requests allowed per email and per client IP in each window.
	LinkRequestsPerEmail int
	LinkRequestsPerIP    int
	LinkRequestWindow    time.Duration
	Now                  func() time.Time
}

type Handler struct {
	serviceLayer service.Service
	metrics      *metrics.Metrics
	log          *slog.Logger
	opts         Options
	emailLimiter *rateLimiter
	ipLimiter    *rateLimiter
}

type errorResponse struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newErrorResponse(c *gin.Context, statusCode int, errMessage string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Message: errMessage})
}

func NewHandler(srvc service.Service, m *metrics.Metrics, lgr *slog.Logger, opts Options) *Handler {
	if opts.LinkRequestWindow <= 0 {
		opts.LinkRequestWindow = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Handler{
		serviceLayer: srvc,
		metrics:      m,
		log:          lgr,
		opts:         opts,
		emailLimiter: newRateLimiter(opts.LinkRequestsPerEmail, opts.LinkRequestWindow),
		ipLimiter:    newRateLimiter(opts.LinkRequestsPerIP, opts.LinkRequestWindow),
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery(), RequestID(), h.AccessLog())
	if len(h.opts.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     h.opts.AllowOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	auth := router.Group("/auth")
	{
		auth.POST("/request-link", h.RequestLink)
		auth.GET("/verify-link", h.VerifyLink)

		auth.GET("/me", h.AuthMiddleware(), h.Me)
	}

	library := router.Group("/", h.AuthMiddleware(), RequireRole(models.RoleViewer))
	{
		library.GET("/games", h.ListGames)
		library.POST("/games", RequireRole(models.RoleContributor), h.AddGame)

		library.GET("/tags", h.ListTags)
		library.POST("/tags", RequireRole(models.RoleContributor), h.AddTag)

		library.GET("/users", RequireRole(models.RoleContributor), h.ListUsers)
	}

	return router
}

func (h *Handler) requestLog(c *gin.Context, op string) *slog.Logger {
	return h.log.With(slog.String("op", op), slog.String("request_id", c.GetString(ctxRequestID)))
}

// bindingErrorMessage flattens validator errors into a client-facing message.
func bindingErrorMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid request body"
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type requestLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// POST /auth/request-link
func (h *Handler) RequestLink(c *gin.Context) {
	const op = "handler.RequestLink"

	log := h.requestLog(c, op)

	var req requestLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, bindingErrorMessage(err))

		return
	}

	now := h.opts.Now()
	if !h.ipLimiter.allow(keyIP(c.ClientIP()), now) || !h.emailLimiter.allow(keyEmail(req.Email), now) {
		log.Warn("login link rate limit exceeded")

		c.Header("Retry-After", fmt.Sprintf("%.0f", h.opts.LinkRequestWindow.Seconds()))
		newErrorResponse(c, http.StatusTooManyRequests, "too many requests")

		return
	}

	if _, err := h.serviceLayer.RequestLoginLink(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			newErrorResponse(c, http.StatusBadRequest, "not valid email")

			return
		}

		log.Error("failed to issue login link", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to send login link")

		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "Authentication link sent to your email"})
}

type verifyLinkResponse struct {
	Message   string    `json:"message"`
	UserEmail string    `json:"user_email"`
	Role      string    `json:"role"`
	JWT       string    `json:"jwt"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GET /auth/verify-link?token=
func (h *Handler) VerifyLink(c *gin.Context) {
	const op = "handler.VerifyLink"

	log := h.requestLog(c, op)

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		newErrorResponse(c, http.StatusBadRequest, invalidLinkMessage)

		return
	}

	session, err := h.serviceLayer.VerifyLoginLink(c.Request.Context(), token)
	if err != nil {
		if service.IsVerificationRejection(err) {
			log.Info("login link rejected", slog.Any("error", err))

			newErrorResponse(c, http.StatusBadRequest, invalidLinkMessage)

			return
		}

		log.Error("failed to verify login link", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "verification failed")

		return
	}

	c.JSON(http.StatusOK, verifyLinkResponse{
		Message:   "Authentication successful",
		UserEmail: session.Subject,
		Role:      session.Role.String(),
		JWT:       session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

// GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	const op = "handler.Me"

	log := h.requestLog(c, op)

	identity, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "not authenticated")

		return
	}

	user, err := h.serviceLayer.GetUser(c.Request.Context(), identity.Subject)
	if err != nil {
		if errors.Is(err, service.ErrUnknownUser) {
			newErrorResponse(c, http.StatusUnauthorized, "not authenticated")

			return
		}
		log.Error("failed to get user", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to get user")

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":   user.Username,
		"email":      identity.Subject,
		"role":       identity.Role.String(),
		"expires_at": identity.ExpiresAt,
	})
}
