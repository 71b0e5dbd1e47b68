package attachment

import (
	"net/http"
	"strconv"

	"dentalclinic/internal/middleware"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.POST("/appointments/:id/attachments", h.Upload)
	protected.GET("/appointments/:id/attachments", h.List)
}

// Upload godoc
// @Summary      Attach a dental image or report to an appointment
// @Tags         Appointments
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id   path     int  true "Appointment ID"
// @Param        file formData file true "File to upload"
// @Success      201 {object} map[string]interface{}
// @Failure      400,403,404 {object} map[string]interface{}
// @Router       /appointments/{id}/attachments [post]
func (h *Handler) Upload(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid appointment id")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "no file provided")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "unreadable file")
		return
	}
	defer f.Close()

	a, err := h.service.Upload(c.Request.Context(), middleware.Actor(c), id, fh.Filename, f)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, "attachment stored", a)
}

func (h *Handler) List(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid appointment id")
		return
	}
	out, err := h.service.List(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "attachments", out)
}
