package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dentalclinic/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// Options tune the connection. Pool limits apply to postgres only; sqlite
// is held to a single connection.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
}

func Connect(dsn string, opts Options, log zerolog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(log, opts.SlowQuery),
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		log.Info().
			Int("max_open_conns", opts.MaxOpenConns).
			Int("max_idle_conns", opts.MaxIdleConns).
			Dur("conn_max_lifetime", opts.ConnMaxLifetime).
			Msg("connecting to postgres")
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		return db, nil
	}

	log.Info().Str("dsn", dsn).Msg("using sqlite")
	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		cfg,
	)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer; one pooled connection serialises access.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// partialIndexes back the invariants AutoMigrate cannot express. The syntax is
// shared by postgres and sqlite.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_appointments_active_slot
		ON appointments (doctor_ref, scheduled_at)
		WHERE status IN ('PENDING_PAYMENT', 'CONFIRMED')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_active_appointment
		ON payments (appointment_ref)
		WHERE status IN ('CREATED', 'INITIATED', 'PROCESSING')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_redeem_codes_code_folded
		ON redeem_codes (UPPER(code))`,
}

// Migrate creates or updates every table and the partial unique indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err comes from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
