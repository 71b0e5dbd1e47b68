package redeem

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
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(protected, admin *gin.RouterGroup) {
	protected.GET("/redeem-codes/:code/validate", h.Validate)

	codes := admin.Group("/redeem-codes")
	{
		codes.POST("", h.Create)
		codes.GET("", h.List)
	}
}

// Create godoc
// @Summary      Create a redeem code
// @Tags         Admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body CreateRequest true "Code definition"
// @Router       /admin/redeem-codes [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, apperr.CodeValidation, "invalid request", errs)
		return
	}
	code, err := h.service.Create(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, "redeem code created", code)
}

func (h *Handler) List(c *gin.Context) {
	codes, err := h.service.List(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "redeem codes", gin.H{"codes": codes})
}

// Validate godoc
// @Summary      Quote a redeem code
// @Tags         Redeem
// @Security     BearerAuth
// @Produce      json
// @Param        code path string true "Code"
// @Param        amountCents query int false "Order amount in cents"
// @Router       /redeem-codes/{code}/validate [get]
func (h *Handler) Validate(c *gin.Context) {
	var amount int64
	if s := c.Query("amountCents"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 {
			response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "amountCents must be a positive integer")
			return
		}
		amount = v
	}
	q, err := h.service.Validate(c.Request.Context(), middleware.Actor(c), c.Param("code"), amount)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "redeem code is valid", gin.H{
		"discountCents": q.DiscountCents,
		"finalCents":    q.FinalCents,
	})
}
