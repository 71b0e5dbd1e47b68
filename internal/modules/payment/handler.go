package payment

import (
	"io"
	"net/http"
	"strconv"

	"dentalclinic/internal/middleware"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/response"
	"dentalclinic/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

const maxCallbackBytes = 64 << 10

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/payment/initiate", h.Initiate)
	rg.GET("/payment/status/:paymentId", h.Status)
	rg.POST("/appointments/:id/cancel", h.Cancel)
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/payment/gateway/callback", h.Callback)
}

func (h *Handler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	admin.POST("/payments/:id/refund", h.Refund)
	admin.GET("/reconciliations", h.ListReconciliations)
	admin.POST("/reconciliations/:id/resolve", h.ResolveReconciliation)
}

// Initiate godoc
// @Summary      Start payment for a reserved appointment
// @Tags         Payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body InitiateRequest true "Appointment to pay for"
// @Success      200 {object} InitiateResponse
// @Failure      409 {object} map[string]interface{}
// @Failure      502 {object} map[string]interface{}
// @Router       /payment/initiate [post]
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request", errs)
		return
	}
	res, err := h.service.Initiate(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "payment initiated", res)
}

// Status godoc
// @Summary      Payment and appointment status
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Param        paymentId path int true "Payment ID"
// @Success      200 {object} StatusResponse
// @Router       /payment/status/{paymentId} [get]
func (h *Handler) Status(c *gin.Context) {
	id, ok := pathID(c, "paymentId")
	if !ok {
		return
	}
	res, err := h.service.Status(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "payment status", res)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.service.Cancel(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "appointment cancelled", res)
}

// Callback godoc
// @Summary      Gateway payment callback
// @Description  Signed server-to-server event. Only a bad signature is rejected.
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} map[string]interface{}
// @Router       /payment/gateway/callback [post]
func (h *Handler) Callback(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes))
	if err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "unreadable callback body")
		return
	}
	if _, err := h.service.HandleCallback(c.Request.Context(), raw, c.GetHeader(gateway.SignatureHeader)); err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) Refund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request body")
			return
		}
		if errs := validator.Validate(req); errs != nil {
			response.ErrorWithDetails(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request", errs)
			return
		}
	}
	res, err := h.service.Refund(c.Request.Context(), middleware.Actor(c), id, req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "payment refunded", res)
}

func (h *Handler) ListReconciliations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	all := c.Query("all") == "true"
	recs, err := h.service.ListReconciliations(c.Request.Context(), middleware.Actor(c), all, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "reconciliations", recs)
}

func (h *Handler) ResolveReconciliation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.service.ResolveReconciliation(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "reconciliation resolved", rec)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid "+name)
		return 0, false
	}
	return id, true
}
