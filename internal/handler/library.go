package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"gamegroup/internal/models"
	"gamegroup/internal/service"
)

type createGameRequest struct {
	Title       string   `json:"title" binding:"required,min=1,max=255"`
	Owner       string   `json:"owner" binding:"required,min=1,max=255"`
	MinPlayers  int      `json:"min_players" binding:"required,min=1"`
	MaxPlayers  int      `json:"max_players" binding:"required,min=1,gtefield=MinPlayers"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags" binding:"omitempty,max=32,dive,min=1,max=64"`
	ImageURL    *string  `json:"image_url" binding:"omitempty,max=25000"`
	BGGLink     *string  `json:"bgg_link" binding:"omitempty,max=500"`
	BGGRating   *float64 `json:"bgg_rating" binding:"omitempty,min=0,max=10"`
}

// GET /games?sort_by=&tag=&limit=&offset=
func (h *Handler) ListGames(c *gin.Context) {
	const op = "handler.ListGames"

	log := h.requestLog(c, op)

	q := models.GameQuery{
		SortBy: c.Query("sort_by"),
		Tag:    c.Query("tag"),
	}
	if q.SortBy != "" && !slices.Contains(models.GameSortFields, q.SortBy) {
		newErrorResponse(c, http.StatusBadRequest, "unsupported sort_by")

		return
	}

	var err error
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 1 || q.Limit > service.MaxPageSize {
			newErrorResponse(c, http.StatusBadRequest, "limit must be between 1 and 100")

			return
		}
	}
	if v := c.Query("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil || q.Offset < 0 {
			newErrorResponse(c, http.StatusBadRequest, "offset must not be negative")

			return
		}
	}

	page, err := h.serviceLayer.ListGames(c.Request.Context(), q)
	if err != nil {
		log.Error("failed to list games", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to get games")

		return
	}

	c.JSON(http.StatusOK, page)
}

// POST /games
func (h *Handler) AddGame(c *gin.Context) {
	const op = "handler.AddGame"

	log := h.requestLog(c, op)

	identity, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "not authenticated")

		return
	}

	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to bind game", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, bindingErrorMessage(err))

		return
	}

	id, err := h.serviceLayer.AddGame(c.Request.Context(), identity.Subject, models.Game{
		Title:       req.Title,
		Owner:       req.Owner,
		MinPlayers:  req.MinPlayers,
		MaxPlayers:  req.MaxPlayers,
		Description: req.Description,
		Tags:        req.Tags,
		ImageURL:    req.ImageURL,
		BGGLink:     req.BGGLink,
		BGGRating:   req.BGGRating,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidGame) {
			newErrorResponse(c, http.StatusBadRequest, err.Error())

			return
		}

		log.Error("failed to add game", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to add game")

		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Game added successfully", "game_id": id})
}

// GET /tags
func (h *Handler) ListTags(c *gin.Context) {
	const op = "handler.ListTags"

	log := h.requestLog(c, op)

	tags, err := h.serviceLayer.ListTags(c.Request.Context())
	if err != nil {
		log.Error("failed to list tags", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to get tags")

		return
	}

	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

type addTagRequest struct {
	Name string `json:"name" binding:"required,max=64"`
}

// POST /tags
func (h *Handler) AddTag(c *gin.Context) {
	const op = "handler.AddTag"

	log := h.requestLog(c, op)

	var req addTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		newErrorResponse(c, http.StatusBadRequest, bindingErrorMessage(err))

		return
	}

	if err := h.serviceLayer.AddTag(c.Request.Context(), req.Name); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTag):
			newErrorResponse(c, http.StatusBadRequest, "invalid tag")
		case errors.Is(err, service.ErrTagExists):
			newErrorResponse(c, http.StatusConflict, "tag already exists")
		default:
			log.Error("failed to add tag", slog.Any("error", err))

			newErrorResponse(c, http.StatusInternalServerError, "failed to add tag")
		}

		return
	}

	c.JSON(http.StatusCreated, messageResponse{Message: "Tag added successfully"})
}

// GET /users
func (h *Handler) ListUsers(c *gin.Context) {
	const op = "handler.ListUsers"

	log := h.requestLog(c, op)

	users, err := h.serviceLayer.ListUsers(c.Request.Context())
	if err != nil {
		log.Error("failed to list users", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to get users")

		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}
