package payment

import (
	"context"
	"errors"
	"fmt"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/notifier"
	"dentalclinic/internal/repository"

	"github.com/rs/zerolog"
)

// processingCapFactor bounds how long a PROCESSING payment may hold a slot,
// as a multiple of the hold TTL.
const processingCapFactor = 3

type SweepReport struct {
	PaymentsSettled      int `json:"paymentsSettled"`
	PaymentsExpired      int `json:"paymentsExpired"`
	HoldsExpired         int `json:"holdsExpired"`
	AppointmentsFinished int `json:"appointmentsFinished"`
}

// Sweeper expires abandoned holds, settles payments whose callback was lost
// and completes consultations that have ended.
type Sweeper struct {
	svc *Service
	log zerolog.Logger
}

func NewSweeper(svc *Service) *Sweeper {
	return &Sweeper{svc: svc, log: svc.log.With().Str("task", "sweep").Logger()}
}

// RunOnce performs one pass. Per-record failures are logged and joined into
// the returned error; the pass continues past them.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var (
		rep  SweepReport
		errs []error
	)
	if err := w.sweepPayments(ctx, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := w.expireHolds(ctx, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := w.completeFinished(ctx, &rep); err != nil {
		errs = append(errs, err)
	}

	m := w.svc.metrics
	m.Sweep("payment_settled", rep.PaymentsSettled)
	m.Sweep("payment_expired", rep.PaymentsExpired)
	m.Sweep("hold_expired", rep.HoldsExpired)
	m.Sweep("appointment_completed", rep.AppointmentsFinished)

	if rep != (SweepReport{}) {
		w.log.Info().
			Int("payments_settled", rep.PaymentsSettled).
			Int("payments_expired", rep.PaymentsExpired).
			Int("holds_expired", rep.HoldsExpired).
			Int("appointments_completed", rep.AppointmentsFinished).
			Msg("sweep pass finished")
	}
	return rep, errors.Join(errs...)
}

func (w *Sweeper) sweepPayments(ctx context.Context, rep *SweepReport) error {
	s := w.svc
	now := s.clock.Now()

	open, err := s.store.Payments.ListStale(ctx,
		[]domain.PaymentStatus{domain.PaymentCreated, domain.PaymentInitiated},
		now.Add(-s.cfg.HoldTTL), s.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}
	processing, err := s.store.Payments.ListStale(ctx,
		[]domain.PaymentStatus{domain.PaymentProcessing},
		now.Add(-s.cfg.PollInterval), s.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list processing payments: %w", err)
	}

	var errs []error
	for i := range open {
		p := &open[i]
		settled, err := w.settle(ctx, p)
		if err != nil {
			w.log.Warn().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("status check before expiry failed")
		}
		if settled {
			rep.PaymentsSettled++
			continue
		}
		expired, err := w.expire(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			rep.PaymentsExpired++
		}
	}

	for i := range processing {
		p := &processing[i]
		settled, err := w.settle(ctx, p)
		if err != nil {
			w.log.Warn().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("status poll failed")
		}
		if settled {
			rep.PaymentsSettled++
			continue
		}
		if now.Sub(p.CreatedAt) < processingCapFactor*s.cfg.HoldTTL {
			continue
		}
		expired, err := w.expire(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			rep.PaymentsExpired++
		}
	}
	return errors.Join(errs...)
}

// settle applies the gateway's answer when it is final. A payment that never
// reached the gateway has nothing to ask about.
func (w *Sweeper) settle(ctx context.Context, p *domain.Payment) (bool, error) {
	if p.GatewayOrderID == nil && p.Status == domain.PaymentCreated {
		return false, nil
	}
	res, err := w.svc.gateway.FetchStatus(ctx, p.MerchantTxnID)
	if err != nil {
		return false, err
	}
	target, ok := targetFor(res.Status)
	if !ok || !target.IsTerminal() {
		return false, nil
	}
	if res.MerchantTxnID == "" {
		res.MerchantTxnID = p.MerchantTxnID
	}
	out, err := w.svc.applyResult(ctx, res, domain.SourceSweep)
	if err != nil {
		return false, err
	}
	return out == outcomeApplied, nil
}

func (w *Sweeper) expire(ctx context.Context, p *domain.Payment) (bool, error) {
	s := w.svc
	var expired bool
	fx := &effects{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		appt, locked, err := lockPair(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if !locked.Status.IsActive() {
			return nil
		}
		out, err := s.advance(ctx, tx, fx, appt, locked, transition{target: domain.PaymentExpired, source: domain.SourceSweep})
		expired = out == outcomeApplied
		return err
	})
	if err != nil {
		return false, fmt.Errorf("expire payment %d: %w", p.ID, err)
	}
	s.commit(fx)

	if expired && p.GatewayOrderID != nil {
		if err := s.gateway.Cancel(ctx, p.MerchantTxnID); err != nil {
			w.log.Debug().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("gateway cancel after expiry failed")
		}
	}
	if expired {
		w.log.Info().Int64("payment_id", p.ID).Str("merchant_txn_id", p.MerchantTxnID).Msg("payment hold expired")
	}
	return expired, nil
}

// expireHolds releases reservations that never got as far as a payment.
func (w *Sweeper) expireHolds(ctx context.Context, rep *SweepReport) error {
	s := w.svc
	now := s.clock.Now()
	appts, err := s.store.Appointments.ListPendingWithoutPayment(ctx, now.Add(-s.cfg.HoldTTL), s.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list unpaid holds: %w", err)
	}

	var errs []error
	for _, a := range appts {
		var done bool
		fx := &effects{}
		err := s.store.InTx(ctx, func(tx *repository.Store) error {
			appt, err := tx.Appointments.GetByIDForUpdate(ctx, a.ID)
			if err != nil {
				return err
			}
			if appt.Status != domain.AppointmentPendingPayment {
				return nil
			}
			active, err := tx.Payments.FindActive(ctx, appt.ID)
			if err != nil || active != nil {
				return err
			}
			if err := tx.Appointments.Transition(ctx, appt.ID, appt.Status, domain.AppointmentExpired, now, map[string]interface{}{
				"status_reason": domain.ReasonHoldExpired,
			}); err != nil {
				return err
			}
			fx.events.Add(notifier.Event{
				Type:           notifier.EventAppointmentExpired,
				UserRefs:       []int64{appt.PatientRef},
				AppointmentRef: appt.ID,
				Subject:        "Your slot hold has expired",
				Body:           "No payment was started in time, so the slot has been released.",
				Data:           map[string]interface{}{"reason": domain.ReasonHoldExpired},
				At:             now,
			})
			done = true
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire hold %d: %w", a.ID, err))
			continue
		}
		s.commit(fx)
		if done {
			rep.HoldsExpired++
		}
	}
	return errors.Join(errs...)
}

// completeFinished closes confirmed consultations whose scheduled end has
// passed and revokes their rooms.
func (w *Sweeper) completeFinished(ctx context.Context, rep *SweepReport) error {
	s := w.svc
	now := s.clock.Now()
	appts, err := s.store.Appointments.ListConfirmedEndedBy(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list finished appointments: %w", err)
	}

	var errs []error
	for _, a := range appts {
		var done bool
		fx := &effects{}
		err := s.store.InTx(ctx, func(tx *repository.Store) error {
			appt, err := tx.Appointments.GetByIDForUpdate(ctx, a.ID)
			if err != nil {
				return err
			}
			if appt.Status != domain.AppointmentConfirmed {
				return nil
			}
			if err := tx.Appointments.Transition(ctx, appt.ID, appt.Status, domain.AppointmentCompleted, now, map[string]interface{}{
				"room_ref": nil,
			}); err != nil {
				return err
			}
			if appt.RoomRef != nil {
				if err := s.rooms.Revoke(ctx, tx, *appt.RoomRef); err != nil {
					return err
				}
				fx.disconnect = append(fx.disconnect, *appt.RoomRef)
			}
			done = true
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("complete appointment %d: %w", a.ID, err))
			continue
		}
		s.commit(fx)
		if done {
			rep.AppointmentsFinished++
		}
	}
	return errors.Join(errs...)
}
