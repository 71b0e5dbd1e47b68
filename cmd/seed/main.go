package main

import (
	"flag"
	"time"

	"dentalclinic/internal/app"
	"dentalclinic/internal/config"
	"dentalclinic/internal/database"
	"dentalclinic/internal/domain"
	"dentalclinic/internal/pkg/jwt"
	"dentalclinic/internal/pkg/logger"

	"gorm.io/gorm/clause"
)

// Seed data: the clinic admin, two virtual-consultation doctors and one patient.
const (
	adminID   = 1
	patientID = 42
)

var doctorIDs = []int64{7, 8}

func main() {
	tokens := flag.Bool("tokens", true, "print access tokens for the seeded accounts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Pretty: true})
		fallback.Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	db, err := database.Connect(cfg.DatabaseURL, app.DatabaseOptions(cfg), log)
	if err != nil {
		log.Fatal().Err(err).Msg("db connection failed")
	}
	log.Info().Msg("running migrations")
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	now := time.Now().UTC()

	window := domain.ServiceWindow{
		AdminRef:   adminID,
		StartOfDay: "09:00",
		EndOfDay:   "18:00",
		Timezone:   "Asia/Kolkata",
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	window.SetEmails([]string{"frontdesk@dentalclinic.test"})
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "admin_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"start_of_day", "end_of_day", "timezone", "alert_emails", "active", "updated_at"}),
	}).Create(&window).Error; err != nil {
		log.Fatal().Err(err).Msg("seed service window failed")
	}
	log.Info().Str("window", window.StartOfDay+"-"+window.EndOfDay).Str("tz", window.Timezone).Msg("service window ready")

	code := domain.RedeemCode{
		Code:             "WELCOME10",
		DiscountKind:     domain.DiscountPercent,
		Value:            10,
		MaxDiscountCents: 10000,
		UsageLimit:       500,
		PerUserLimit:     1,
		ValidFrom:        now.Add(-time.Hour),
		ValidUntil:       now.AddDate(0, 3, 0),
		Active:           true,
		Applicability:    domain.ApplicableVirtualOnly,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&code).Error; err != nil {
		log.Fatal().Err(err).Msg("seed redeem code failed")
	}
	log.Info().Str("code", code.Code).Msg("redeem code ready")

	if *tokens {
		j := jwt.New(cfg.JWTSecret, 30*24*time.Hour)
		accounts := []struct {
			name string
			id   int64
			role string
		}{
			{"admin", adminID, jwt.RoleAdmin},
			{"patient", patientID, jwt.RoleUser},
			{"doctor", doctorIDs[0], jwt.RoleDoctor},
			{"doctor", doctorIDs[1], jwt.RoleDoctor},
		}
		for _, a := range accounts {
			tok, err := j.GenerateToken(a.id, a.role)
			if err != nil {
				log.Fatal().Err(err).Msg("token generation failed")
			}
			log.Info().Str("account", a.name).Int64("user_id", a.id).Str("token", tok).Msg("dev access token")
		}
	}

	log.Info().Interface("virtual_doctor_ids", doctorIDs).Msg("seed completed; set VIRTUAL_DOCTOR_IDS to match")
}
