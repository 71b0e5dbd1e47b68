package servicewindow

import (
	"net/http"

	"dentalclinic/internal/middleware"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/response"
	"dentalclinic/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/service-window", h.Get)
	admin.PUT("/service-window", h.Put)
}

func (h *Handler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "service window", view)
}

// Put godoc
// @Summary      Create or replace the service window
// @Tags         Admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body UpdateRequest true "Window"
// @Router       /admin/service-window [put]
func (h *Handler) Put(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request", errs)
		return
	}
	view, err := h.service.Put(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "service window saved", view)
}
