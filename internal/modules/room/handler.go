package room

import (
	"net/http"

	"dentalclinic/internal/middleware"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Handler struct {
	broker *Broker
	hub    *Hub
	log    zerolog.Logger
}

func NewHandler(broker *Broker, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{broker: broker, hub: hub, log: log}
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	g := protected.Group("/video")
	{
		g.GET("/:roomId/token", h.GetToken)
		g.POST("/:roomId/join", h.Join)
	}
}

// RegisterSocketRoutes mounts the signaling socket. Browsers cannot set
// headers on upgrade, so it authenticates with the join token instead.
func (h *Handler) RegisterSocketRoutes(public *gin.RouterGroup) {
	public.GET("/ws/video/:roomId", h.Signal)
}

type JoinRequest struct {
	JoinToken string `json:"joinToken" binding:"required"`
}

// GetToken godoc
// @Summary      Issue a video room join token
// @Tags         Video
// @Security     BearerAuth
// @Produce      json
// @Param        roomId path string true "Room ID"
// @Router       /video/{roomId}/token [get]
func (h *Handler) GetToken(c *gin.Context) {
	creds, err := h.broker.IssueToken(c.Request.Context(), middleware.Actor(c), c.Param("roomId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "join token issued", gin.H{
		"joinToken":  creds.JoinToken,
		"validUntil": creds.ValidUntil,
	})
}

// Join godoc
// @Summary      Validate a join token and return signaling details
// @Tags         Video
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        roomId path string true "Room ID"
// @Param        body body JoinRequest true "Join token"
// @Router       /video/{roomId}/join [post]
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, apperr.CodeValidation, "joinToken is required")
		return
	}
	info, err := h.broker.Join(c.Request.Context(), middleware.Actor(c), c.Param("roomId"), req.JoinToken)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "joined", info)
}

func (h *Handler) Signal(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, http.StatusUnauthorized, apperr.CodeTokenInvalid, "token query parameter is required")
		return
	}
	r, claims, err := h.broker.Authorize(c.Request.Context(), c.Param("roomId"), token)
	if err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("room_id", r.RoomID).Msg("signaling upgrade failed")
		return
	}
	h.hub.Serve(conn, r.RoomID, claims.UserRef, claims.Role)
}
