// Package app wires configuration into the running services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dentalclinic/internal/config"
	"dentalclinic/internal/database"
	"dentalclinic/internal/middleware"
	"dentalclinic/internal/modules/attachment"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/notifier"
	"dentalclinic/internal/modules/objectstore"
	"dentalclinic/internal/modules/payment"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/modules/redeem"
	"dentalclinic/internal/modules/reservation"
	"dentalclinic/internal/modules/room"
	"dentalclinic/internal/modules/servicewindow"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/pkg/idgen"
	"dentalclinic/internal/pkg/jwt"
	"dentalclinic/internal/pkg/metrics"
	"dentalclinic/internal/pkg/redisx"
	"dentalclinic/internal/repository"
	"dentalclinic/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	metricsNamespace = "dentalclinic"
	slotLockTTL      = 5 * time.Second
)

// Options replace collaborators that tests and tools need to control.
type Options struct {
	DB      *gorm.DB
	Clock   clock.Clock
	IDs     idgen.Generator
	Gateway *gateway.Config
	// Notifier replaces the dispatcher and its sinks.
	Notifier notifier.Notifier
}

type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    *repository.Store
	JWT      *jwt.Service
	Router   *gin.Engine
	Registry *prometheus.Registry
	Payments *payment.Service
	Sweeper  *payment.Sweeper

	dispatcher *notifier.Dispatcher
	redis      *redis.Client
	ownsDB     bool
	log        zerolog.Logger
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	ids := opts.IDs
	if ids == nil {
		ids = idgen.NewUUID()
	}

	a.DB = opts.DB
	if a.DB == nil {
		db, err := database.Connect(cfg.DatabaseURL, DatabaseOptions(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
		a.ownsDB = true
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
	}
	a.Store = repository.NewStore(a.DB)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry, metricsNamespace)

	if cfg.RedisURL != "" {
		rdb, err := redisx.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
	}

	notes := opts.Notifier
	if notes == nil {
		sinks := []notifier.Sink{notifier.LogSink{Log: log.With().Str("component", "notifications").Logger()}}
		if cfg.SMTP.Enabled() {
			sinks = append(sinks, notifier.NewEmailSink(notifier.SMTPConfig{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			}))
		}
		if a.redis != nil {
			sinks = append(sinks, notifier.NewPushSink(a.redis, ""))
		}
		a.dispatcher = notifier.NewDispatcher(0, log, m, sinks...)
		a.dispatcher.Start()
		notes = a.dispatcher
	}

	gwCfg := gatewayConfig(cfg)
	if opts.Gateway != nil {
		gwCfg = *opts.Gateway
	}
	gw, err := gateway.NewClient(gwCfg, m, log)
	if err != nil {
		return nil, err
	}

	a.JWT = jwt.New(cfg.JWTSecret, cfg.JWTAccessTTL).WithNow(clk.Now)

	hub := room.NewHub(log.With().Str("component", "signaling").Logger())
	broker := room.NewBroker(room.Config{
		PreJoin:      cfg.RoomPreJoin,
		Grace:        cfg.RoomGrace,
		MaxDuration:  cfg.RoomMaxDuration,
		Secret:       cfg.RoomSecret,
		SignalingURL: cfg.RoomSignalingURL,
	}, a.Store, ids, clk, hub, log)

	var locker reservation.SlotLocker
	if a.redis != nil {
		locker = redisx.NewSlotLocker(a.redis, slotLockTTL)
	}
	reservations := reservation.NewManager(a.Store, reservation.Config{
		PriceCents:      cfg.VirtualPriceCents,
		Currency:        cfg.Currency,
		DurationMinutes: cfg.AppointmentDuration,
		DoctorPool:      cfg.VirtualDoctorIDs,
		Rules:           policy.Rules{MinLeadTime: cfg.MinLeadTime, MaxHorizon: cfg.MaxHorizon},
	}, clk, locker, m, log)

	a.Payments = payment.NewService(a.Store, gw, broker, notes, ids, clk, payment.Config{
		CallbackURL:  cfg.Gateway.CallbackURL,
		RedirectURL:  cfg.Gateway.RedirectURL,
		HoldTTL:      cfg.PaymentHoldTTL,
		PollInterval: cfg.StatusPollInterval,
		SweepBatch:   cfg.SweepBatch,
	}, m, log)
	a.Sweeper = payment.NewSweeper(a.Payments)

	objects := objectstore.NewLocal(cfg.UploadDir, cfg.UploadPublicBase)
	attachments := attachment.NewService(a.Store, objects, clk, attachment.Config{Timeout: cfg.ObjectStoreTimeout}, log)

	a.Router = server.NewRouter(server.Config{
		JWT:         a.JWT,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimitRPS),
			Burst: cfg.RateLimitBurst,
		}),
		Gatherer:   a.Registry,
		StaticDir:  objects.BaseDir(),
		StaticBase: cfg.UploadPublicBase,
		Ping:       a.ping,
	}, server.Handlers{
		Reservation:   reservation.NewHandler(reservations),
		Payment:       payment.NewHandler(a.Payments),
		Room:          room.NewHandler(broker, hub, log),
		Redeem:        redeem.NewHandler(redeem.NewService(a.Store, clk, cfg.VirtualPriceCents)),
		ServiceWindow: servicewindow.NewHandler(servicewindow.NewService(a.Store, clk)),
		Attachment:    attachment.NewHandler(attachments),
	}, log)

	ok = true
	return a, nil
}

// DatabaseOptions maps the pool settings onto the connector.
func DatabaseOptions(cfg *config.Config) database.Options {
	return database.Options{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		SlowQuery:       cfg.DB.SlowQuery,
	}
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		Env:           gateway.Environment(cfg.Gateway.Env),
		BaseURL:       cfg.Gateway.BaseURL,
		MerchantID:    cfg.Gateway.MerchantID,
		ClientID:      cfg.Gateway.ClientID,
		ClientSecret:  cfg.Gateway.ClientSecret,
		ClientVersion: cfg.Gateway.ClientVersion,
		Timeout:       cfg.Gateway.Timeout,
		TokenSkew:     cfg.Gateway.TokenSkew,
	}
}

func (a *App) ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close drains queued notifications and releases connections.
func (a *App) Close() error {
	var errs []error
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.ownsDB && a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
