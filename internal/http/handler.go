package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/service"
)

const storedMessage = "Number plate stored successfully!"

type PlateService interface {
	StorePlate(ctx context.Context, plate string) (*anpr.RemoteRecord, error)
	ListPlates(ctx context.Context) ([]anpr.RemoteRecord, error)
	GetPlate(ctx context.Context, id int64) (*anpr.RemoteRecord, error)
	SearchPlates(ctx context.Context, q service.PlateQuery) ([]anpr.RemoteRecord, error)
}

type Handler struct {
	plateService PlateService
	log          zerolog.Logger
}

func NewHandler(plateService PlateService, log zerolog.Logger) *Handler {
	return &Handler{
		plateService: plateService,
		log:          log,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)

	// Detector-facing endpoints keep their historical paths and bodies.
	r.POST("/store_plate/", h.storePlate)
	r.GET("/plates/", h.listPlates)

	api := r.Group("/api/v1")
	{
		api.GET("/plates", h.searchPlates)
		api.GET("/plates/:id", h.getPlate)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) storePlate(c *gin.Context) {
	var req anpr.StorePlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if _, err := h.plateService.StorePlate(c.Request.Context(), req.Plate); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to store plate")
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, anpr.StorePlateResponse{Message: storedMessage})
}

func (h *Handler) listPlates(c *gin.Context) {
	plates, err := h.plateService.ListPlates(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list plates")
		c.JSON(http.StatusInternalServerError, errorResponse("database error"))
		return
	}

	c.JSON(http.StatusOK, anpr.PlatesResponse{Plates: plates})
}

func (h *Handler) getPlate(c *gin.Context) {
	id, err := parseInt(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("id must be an integer"))
		return
	}

	plate, err := h.plateService.GetPlate(c.Request.Context(), int64(id))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(plate))
}

func (h *Handler) searchPlates(c *gin.Context) {
	var q service.PlateQuery
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		q.Plate = &plate
	}
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		q.From = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		q.To = &t
	}

	q.Limit = 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			q.Offset = parsed
		}
	}

	plates, err := h.plateService.SearchPlates(c.Request.Context(), q)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(plates))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
