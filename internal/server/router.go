package server

import (
	"context"
	"net/http"
	"time"

	"dentalclinic/internal/middleware"
	"dentalclinic/internal/modules/attachment"
	"dentalclinic/internal/modules/payment"
	"dentalclinic/internal/modules/redeem"
	"dentalclinic/internal/modules/reservation"
	"dentalclinic/internal/modules/room"
	"dentalclinic/internal/modules/servicewindow"
	"dentalclinic/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handlers are the HTTP adapters mounted under /api/v1.
type Handlers struct {
	Reservation   *reservation.Handler
	Payment       *payment.Handler
	Room          *room.Handler
	Redeem        *redeem.Handler
	ServiceWindow *servicewindow.Handler
	Attachment    *attachment.Handler
}

type Config struct {
	JWT         *jwt.Service
	CORSOrigins string
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
	// StaticDir is served below StaticBase when both are set.
	StaticDir  string
	StaticBase string
	// Ping reports store health for /health.
	Ping func(ctx context.Context) error
}

func NewRouter(cfg Config, h Handlers, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.GET("/health", health(cfg.Ping))
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.StaticDir != "" && cfg.StaticBase != "" {
		r.Static(cfg.StaticBase, cfg.StaticDir)
	}

	v1 := r.Group("/api/v1")

	// gateway callbacks and the signaling socket carry their own credentials
	h.Payment.RegisterPublicRoutes(v1)

	limited := v1.Group("")
	if cfg.RateLimiter != nil {
		limited.Use(cfg.RateLimiter.RateLimit())
	}
	h.Room.RegisterSocketRoutes(limited)

	protected := limited.Group("")
	protected.Use(middleware.JWTAuth(cfg.JWT))

	admin := protected.Group("/admin")
	admin.Use(middleware.AdminOnly())

	h.Reservation.RegisterRoutes(protected)
	h.Payment.RegisterProtectedRoutes(protected)
	h.Payment.RegisterAdminRoutes(admin)
	h.Room.RegisterRoutes(protected)
	h.Redeem.RegisterRoutes(protected, admin)
	h.ServiceWindow.RegisterRoutes(admin)
	if h.Attachment != nil {
		h.Attachment.RegisterRoutes(protected)
	}

	return r
}

func health(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
