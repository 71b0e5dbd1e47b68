package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultJWTSecret  = "change-me-jwt-secret"
	defaultRoomSecret = "change-me-room-secret"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	DB          DBPoolConfig

	JWTSecret    string
	JWTAccessTTL time.Duration

	Gateway GatewayConfig

	PaymentHoldTTL     time.Duration
	StatusPollInterval time.Duration
	SweepSchedule      string
	SweepInProcess     bool
	SweepBatch         int

	MinLeadTime time.Duration
	MaxHorizon  time.Duration

	VirtualPriceCents   int64
	Currency            string
	AppointmentDuration int
	VirtualDoctorIDs    []int64

	RoomPreJoin      time.Duration
	RoomGrace        time.Duration
	RoomMaxDuration  time.Duration
	RoomSecret       string
	RoomSignalingURL string

	SMTP SMTPConfig

	RateLimitRPS   float64
	RateLimitBurst int

	UploadDir          string
	UploadPublicBase   string
	ObjectStoreTimeout time.Duration

	CORSAllowedOrigins string
}

type GatewayConfig struct {
	Env           string
	BaseURL       string
	MerchantID    string
	ClientID      string
	ClientSecret  string
	ClientVersion string
	CallbackURL   string
	RedirectURL   string
	Timeout       time.Duration
	TokenSkew     time.Duration
}

// DBPoolConfig bounds the postgres connection pool. sqlite always uses a
// single connection.
type DBPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether alert emails can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:      strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", getEnv("ENV", "dev")))),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", "file:dentalclinic.db?_pragma=busy_timeout(5000)"),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),

		JWTSecret:     strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret)),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 1m"),
		Currency:      getEnv("CURRENCY", "INR"),

		RoomSecret:       strings.TrimSpace(getEnv("ROOM_SIGNING_SECRET", defaultRoomSecret)),
		RoomSignalingURL: getEnv("ROOM_SIGNALING_URL", "ws://localhost:8080/api/v1/ws/video"),

		UploadDir:          getEnv("UPLOAD_DIR", "./uploads"),
		UploadPublicBase:   getEnv("UPLOAD_PUBLIC_BASE", "/static/uploads"),
		CORSAllowedOrigins: os.Getenv("CORS_ALLOWED_ORIGINS"),
	}
	cfg.Gateway = GatewayConfig{
		Env:           strings.ToLower(getEnv("GATEWAY_ENV", "sandbox")),
		BaseURL:       os.Getenv("GATEWAY_BASE_URL"),
		MerchantID:    os.Getenv("GATEWAY_MERCHANT_ID"),
		ClientID:      os.Getenv("GATEWAY_CLIENT_ID"),
		ClientSecret:  os.Getenv("GATEWAY_CLIENT_SECRET"),
		ClientVersion: getEnv("GATEWAY_CLIENT_VERSION", "1"),
		CallbackURL:   os.Getenv("GATEWAY_CALLBACK_URL"),
		RedirectURL:   os.Getenv("GATEWAY_REDIRECT_URL"),
	}
	cfg.SMTP = SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}

	var err error
	parsers := []func() error{
		func() (err error) { cfg.JWTAccessTTL, err = parseDurationEnv("JWT_ACCESS_TTL", "24h"); return },
		func() (err error) { cfg.PaymentHoldTTL, err = parseSecondsEnv("PAYMENT_HOLD_TTL_SECONDS", 600); return },
		func() (err error) { cfg.StatusPollInterval, err = parseSecondsEnv("STATUS_POLL_INTERVAL_SECONDS", 30); return },
		func() (err error) { cfg.Gateway.Timeout, err = parseSecondsEnv("GATEWAY_TIMEOUT_SECONDS", 10); return },
		func() (err error) { cfg.Gateway.TokenSkew, err = parseSecondsEnv("GATEWAY_TOKEN_SKEW_SECONDS", 60); return },
		func() (err error) { cfg.ObjectStoreTimeout, err = parseSecondsEnv("OBJECT_STORE_TIMEOUT_SECONDS", 5); return },
		func() (err error) { cfg.MinLeadTime, err = parseMinutesEnv("MIN_LEAD_TIME_MINUTES", 15); return },
		func() (err error) { cfg.RoomPreJoin, err = parseMinutesEnv("ROOM_PRE_JOIN_WINDOW_MINUTES", 10); return },
		func() (err error) { cfg.RoomGrace, err = parseMinutesEnv("ROOM_GRACE_MINUTES", 30); return },
		func() (err error) { cfg.RoomMaxDuration, err = parseMinutesEnv("ROOM_MAX_DURATION_MINUTES", 90); return },
		func() error {
			days, err := parseIntEnv("MAX_HORIZON_DAYS", 60)
			cfg.MaxHorizon = time.Duration(days) * 24 * time.Hour
			return err
		},
		func() error {
			v, err := parseIntEnv("VIRTUAL_PRICE_CENTS", 50000)
			cfg.VirtualPriceCents = int64(v)
			return err
		},
		func() (err error) { cfg.AppointmentDuration, err = parseIntEnv("APPOINTMENT_DURATION_MINUTES", 30); return },
		func() (err error) { cfg.SweepBatch, err = parseIntEnv("SWEEP_BATCH", 100); return },
		func() (err error) { cfg.DB.MaxOpenConns, err = parseIntEnv("DB_MAX_OPEN_CONNS", 25); return },
		func() (err error) { cfg.DB.MaxIdleConns, err = parseIntEnv("DB_MAX_IDLE_CONNS", 5); return },
		func() (err error) { cfg.DB.ConnMaxLifetime, err = parseMinutesEnv("DB_CONN_MAX_LIFETIME_MINUTES", 30); return },
		func() (err error) { cfg.DB.SlowQuery, err = parseDurationEnv("DB_SLOW_QUERY_THRESHOLD", "200ms"); return },
		func() (err error) { cfg.SMTP.Port, err = parseIntEnv("SMTP_PORT", 587); return },
		func() (err error) { cfg.RateLimitBurst, err = parseIntEnv("RATE_LIMIT_BURST", 20); return },
		func() (err error) { cfg.RateLimitRPS, err = parseFloatEnv("RATE_LIMIT_RPS", 10); return },
		func() (err error) { cfg.VirtualDoctorIDs, err = parseIDListEnv("VIRTUAL_DOCTOR_IDS"); return },
	}
	for _, parse := range parsers {
		if err = parse(); err != nil {
			return nil, err
		}
	}
	cfg.SweepInProcess = parseBoolEnv("SWEEP_IN_PROCESS", "true")

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProdLike reports whether secrets must be non-default.
func (c *Config) IsProdLike() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production" || c.AppEnv == "release"
}

func validate(cfg *Config) error {
	if cfg.Gateway.Env != "sandbox" && cfg.Gateway.Env != "production" {
		return fmt.Errorf("GATEWAY_ENV must be one of: sandbox, production")
	}
	if cfg.PaymentHoldTTL <= 0 {
		return fmt.Errorf("PAYMENT_HOLD_TTL_SECONDS must be > 0")
	}
	if cfg.StatusPollInterval <= 0 {
		return fmt.Errorf("STATUS_POLL_INTERVAL_SECONDS must be > 0")
	}
	if cfg.JWTAccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be > 0")
	}
	if cfg.MinLeadTime < 0 || cfg.MaxHorizon <= cfg.MinLeadTime {
		return fmt.Errorf("MAX_HORIZON_DAYS must extend past MIN_LEAD_TIME_MINUTES")
	}
	if cfg.RoomMaxDuration <= 0 || cfg.RoomPreJoin < 0 || cfg.RoomGrace < 0 {
		return fmt.Errorf("room windows must be non-negative and ROOM_MAX_DURATION_MINUTES > 0")
	}
	if cfg.VirtualPriceCents < 0 {
		return fmt.Errorf("VIRTUAL_PRICE_CENTS must be >= 0")
	}
	if cfg.AppointmentDuration <= 0 {
		return fmt.Errorf("APPOINTMENT_DURATION_MINUTES must be > 0")
	}
	if cfg.SweepBatch <= 0 {
		return fmt.Errorf("SWEEP_BATCH must be > 0")
	}
	if cfg.DB.MaxOpenConns <= 0 || cfg.DB.MaxIdleConns < 0 || cfg.DB.MaxIdleConns > cfg.DB.MaxOpenConns {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be > 0 and DB_MAX_IDLE_CONNS within [0, DB_MAX_OPEN_CONNS]")
	}

	if cfg.IsProdLike() {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if isEmptyOrDefault(cfg.RoomSecret, defaultRoomSecret) {
			return fmt.Errorf("in prod/release ROOM_SIGNING_SECRET must be set and not default")
		}
		if cfg.Gateway.MerchantID == "" || cfg.Gateway.ClientSecret == "" {
			return fmt.Errorf("in prod/release GATEWAY_MERCHANT_ID and GATEWAY_CLIENT_SECRET are required")
		}
		if cfg.Gateway.CallbackURL == "" || cfg.Gateway.RedirectURL == "" {
			return fmt.Errorf("in prod/release GATEWAY_CALLBACK_URL and GATEWAY_REDIRECT_URL are required")
		}
	}
	return nil
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseSecondsEnv(name string, fallback int) (time.Duration, error) {
	n, err := parseIntEnv(name, fallback)
	return time.Duration(n) * time.Second, err
}

func parseMinutesEnv(name string, fallback int) (time.Duration, error) {
	n, err := parseIntEnv(name, fallback)
	return time.Duration(n) * time.Minute, err
}

func parseIntEnv(name string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseFloatEnv(name string, fallback float64) (float64, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return f, nil
}

func parseIDListEnv(name string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(os.Getenv(name), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid %s entry %q", name, part)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
