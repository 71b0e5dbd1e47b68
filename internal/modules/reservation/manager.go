package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dentalclinic/internal/database"
	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/pkg/metrics"
	"dentalclinic/internal/pkg/redisx"
	"dentalclinic/internal/repository"

	"github.com/rs/zerolog"
)

type Config struct {
	PriceCents      int64
	Currency        string
	DurationMinutes int
	DoctorPool      []int64
	Rules           policy.Rules
}

var errSlotTaken = apperr.Conflict(apperr.CodeSlotTaken, "the requested slot is no longer available")

type Manager struct {
	store   *repository.Store
	cfg     Config
	clock   clock.Clock
	locker  SlotLocker
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewManager(store *repository.Store, cfg Config, clk clock.Clock, locker SlotLocker, m *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		cfg:     cfg,
		clock:   clk,
		locker:  locker,
		metrics: m,
		log:     log.With().Str("component", "reservation").Logger(),
	}
}

// Reserve holds a virtual slot as PENDING_PAYMENT. The partial unique index
// on (doctor_ref, scheduled_at) is the final arbiter between racing callers.
func (m *Manager) Reserve(ctx context.Context, actor policy.Actor, req ReserveRequest) (*Reservation, error) {
	if req.PatientRef == 0 {
		req.PatientRef = actor.UserID
	}
	if err := policy.Authorise(actor, policy.OpCreateVirtualAppointment, policy.Resource{OwnerRef: req.PatientRef}); err != nil {
		return nil, err
	}

	at := req.ScheduledAt.UTC()
	if at.Second() != 0 || at.Nanosecond() != 0 {
		return nil, apperr.Validation(apperr.CodeValidation, "scheduledAt must be a whole minute")
	}

	now := m.clock.Now()
	window, err := m.store.ServiceWindows.GetActive(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := policy.CheckServiceWindow(at, window, now, m.cfg.Rules); err != nil {
		m.metrics.Reservation("out_of_window")
		return nil, err
	}

	quote, code, err := m.quote(ctx, req.PatientRef, req.RedeemCode, now)
	if err != nil {
		m.metrics.Reservation("redeem_rejected")
		return nil, err
	}

	candidates := m.cfg.DoctorPool
	if req.DoctorRef != nil {
		candidates = []int64{*req.DoctorRef}
	}
	if len(candidates) == 0 {
		return nil, apperr.Validation(apperr.CodeValidation, "doctorRef is required")
	}

	for _, doctor := range candidates {
		appt := &domain.Appointment{
			PatientRef:      req.PatientRef,
			DoctorRef:       &doctor,
			Kind:            domain.AppointmentVirtual,
			ScheduledAt:     at,
			DurationMinutes: m.cfg.DurationMinutes,
			Status:          domain.AppointmentPendingPayment,
			PriceCents:      m.cfg.PriceCents,
			Currency:        m.cfg.Currency,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if code != nil {
			appt.RedeemCodeRef = &code.ID
		}

		err := m.hold(ctx, appt)
		if errors.Is(err, errSlotTaken) {
			m.log.Debug().Int64("doctor_id", doctor).Time("scheduled_at", at).Msg("slot taken, trying next doctor")
			continue
		}
		if err != nil {
			m.metrics.Reservation("error")
			return nil, err
		}

		m.metrics.Reservation("reserved")
		m.log.Info().
			Int64("appointment_id", appt.ID).
			Int64("patient_id", appt.PatientRef).
			Int64("doctor_id", doctor).
			Time("scheduled_at", at).
			Msg("slot reserved")
		return &Reservation{
			AppointmentID: appt.ID,
			DoctorRef:     doctor,
			ScheduledAt:   at,
			PriceCents:    quote.PriceCents,
			DiscountCents: quote.DiscountCents,
			FinalCents:    quote.FinalCents,
		}, nil
	}

	m.metrics.Reservation("slot_taken")
	return nil, errSlotTaken
}

func (m *Manager) hold(ctx context.Context, appt *domain.Appointment) error {
	create := func(ctx context.Context) error {
		return m.store.InTx(ctx, func(tx *repository.Store) error {
			holder, err := tx.Appointments.FindSlotHolder(ctx, *appt.DoctorRef, appt.ScheduledAt)
			if err != nil {
				return apperr.Internal(err)
			}
			if holder != nil {
				return errSlotTaken
			}
			if err := tx.Appointments.Create(ctx, appt); err != nil {
				if database.IsUniqueViolation(err) {
					return errSlotTaken
				}
				return apperr.Internal(err)
			}
			return nil
		})
	}
	if m.locker == nil {
		return create(ctx)
	}

	key := fmt.Sprintf("%d:%s", *appt.DoctorRef, appt.ScheduledAt.Format(time.RFC3339))
	err := m.locker.WithSlotLock(ctx, key, create)
	if errors.Is(err, redisx.ErrLockNotAcquired) {
		return errSlotTaken
	}
	return err
}

func (m *Manager) quote(ctx context.Context, patient int64, raw string, now time.Time) (policy.Quote, *domain.RedeemCode, error) {
	if raw == "" {
		return policy.Quote{PriceCents: m.cfg.PriceCents, FinalCents: m.cfg.PriceCents}, nil, nil
	}
	code, err := m.store.RedeemCodes.GetByCode(ctx, raw)
	if errors.Is(err, repository.ErrNotFound) {
		return policy.Quote{}, nil, apperr.Validation(apperr.CodeRedeemNotFound, "redeem code not found")
	}
	if err != nil {
		return policy.Quote{}, nil, apperr.Internal(err)
	}
	used, err := m.store.RedeemCodes.CountUserRedemptions(ctx, code.ID, patient)
	if err != nil {
		return policy.Quote{}, nil, apperr.Internal(err)
	}
	q, err := policy.ApplyRedeem(m.cfg.PriceCents, code, used, domain.AppointmentVirtual, now)
	if err != nil {
		return policy.Quote{}, nil, err
	}
	return q, code, nil
}

// Get returns an appointment visible to actor.
func (m *Manager) Get(ctx context.Context, actor policy.Actor, id int64) (*domain.Appointment, error) {
	appt, err := m.store.Appointments.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("appointment")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := policy.Authorise(actor, policy.OpViewAppointment, policy.Resource{OwnerRef: appt.PatientRef, DoctorRef: appt.DoctorRef}); err != nil {
		return nil, err
	}
	return appt, nil
}
