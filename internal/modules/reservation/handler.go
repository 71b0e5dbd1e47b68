package reservation

import (
	"net/http"
	"strconv"

	"dentalclinic/internal/middleware"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/response"
	"dentalclinic/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	g := protected.Group("/appointments")
	{
		g.POST("/virtual", h.CreateVirtual)
		g.GET("/:id", h.GetAppointment)
	}
}

// CreateVirtual godoc
// @Summary      Reserve a virtual consultation slot
// @Tags         Appointments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body CreateVirtualRequest true "Slot request"
// @Success      201 {object} Reservation
// @Router       /appointments/virtual [post]
func (h *Handler) CreateVirtual(c *gin.Context) {
	var req CreateVirtualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "scheduledAt is required and must be RFC 3339")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request", errs)
		return
	}

	in := ReserveRequest{DoctorRef: req.DoctorRef, ScheduledAt: req.ScheduledAt, RedeemCode: req.RedeemCode}
	if req.PatientRef != nil {
		in.PatientRef = *req.PatientRef
	}
	res, err := h.manager.Reserve(c.Request.Context(), middleware.Actor(c), in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, "appointment reserved", res)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid appointment id")
		return
	}
	appt, err := h.manager.Get(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "appointment", appt)
}
