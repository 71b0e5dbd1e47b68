package payment

import (
	"context"
	"fmt"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/notifier"
	"dentalclinic/internal/modules/redeem"
	"dentalclinic/internal/repository"
)

type outcome string

const (
	outcomeApplied        outcome = "applied"
	outcomeDuplicate      outcome = "duplicate"
	outcomeStale          outcome = "stale"
	outcomeConflict       outcome = "conflict"
	outcomeLateCapture    outcome = "late_capture"
	outcomeAmountMismatch outcome = "amount_mismatch"
	outcomeUnknownPayment outcome = "unknown_payment"
	outcomeIgnored        outcome = "ignored"
)

// transition is one requested move of a payment to target.
type transition struct {
	target  domain.PaymentStatus
	source  string
	columns map[string]interface{}

	// apptTo and reason override the default appointment follow-on for
	// failed, expired and cancelled payments.
	apptTo domain.AppointmentStatus
	reason string
}

// effects collects side effects that only run once the transaction commits.
type effects struct {
	events     notifier.Collector
	disconnect []string
	hops       []hopRecord
	recons     []domain.ReconciliationKind
}

type hopRecord struct {
	source string
	to     domain.PaymentStatus
}

func (s *Service) commit(fx *effects) {
	for _, h := range fx.hops {
		s.metrics.PaymentTransition(h.source, string(h.to))
	}
	for _, k := range fx.recons {
		s.metrics.Reconciliation(string(k))
	}
	fx.events.Flush(s.notifier)
	for _, id := range fx.disconnect {
		s.rooms.Disconnect(id)
	}
}

// targetFor maps a normalised gateway status onto the payment FSM.
func targetFor(st gateway.Status) (domain.PaymentStatus, bool) {
	switch st {
	case gateway.StatusSuccess:
		return domain.PaymentSuccess, true
	case gateway.StatusPending:
		return domain.PaymentProcessing, true
	case gateway.StatusFailed:
		return domain.PaymentFailed, true
	case gateway.StatusTimeout:
		return domain.PaymentExpired, true
	case gateway.StatusUserDrop:
		return domain.PaymentCancelled, true
	}
	return "", false
}

// lockPair locks the appointment and then its payment, the order every
// writer uses.
func lockPair(ctx context.Context, tx *repository.Store, paymentID int64) (*domain.Appointment, *domain.Payment, error) {
	p, err := tx.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	appt, err := tx.Appointments.GetByIDForUpdate(ctx, p.AppointmentRef)
	if err != nil {
		return nil, nil, err
	}
	p, err = tx.Payments.GetByIDForUpdate(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	return appt, p, nil
}

// advance moves p toward tr.target and applies the appointment follow-on.
// Replays of a state the payment already passed through are no-ops.
func (s *Service) advance(ctx context.Context, tx *repository.Store, fx *effects, appt *domain.Appointment, p *domain.Payment, tr transition) (outcome, error) {
	if p.Status == tr.target {
		return outcomeDuplicate, nil
	}

	if path, ok := domain.PaymentPath(p.Status, tr.target); ok {
		for i, next := range path {
			var extra map[string]interface{}
			if i == len(path)-1 {
				extra = tr.columns
			}
			if err := s.hop(ctx, tx, fx, p, next, tr.source, extra); err != nil {
				return "", err
			}
		}
		return outcomeApplied, s.followOn(ctx, tx, fx, appt, p, tr)
	}

	reached, err := tx.Payments.Reached(ctx, p.ID, tr.target)
	if err != nil {
		return "", fmt.Errorf("payment %d journal: %w", p.ID, err)
	}
	if reached {
		return outcomeDuplicate, nil
	}

	switch {
	case tr.target == domain.PaymentSuccess && p.Status.AllowsLateCapture():
		prev := p.Status
		if err := s.hop(ctx, tx, fx, p, domain.PaymentSuccess, tr.source, tr.columns); err != nil {
			return "", err
		}
		s.log.Warn().
			Int64("payment_id", p.ID).
			Str("merchant_txn_id", p.MerchantTxnID).
			Str("from", string(prev)).
			Msg("late capture recorded")
		if err := s.reconcile(ctx, tx, fx, appt, p, domain.ReconLateCapture,
			fmt.Sprintf("gateway captured %d %s after the payment was %s", p.AmountCents, p.Currency, prev)); err != nil {
			return "", err
		}
		return outcomeLateCapture, s.confirm(ctx, tx, fx, appt, p)
	case !tr.target.IsTerminal():
		return outcomeStale, nil
	default:
		return outcomeConflict, nil
	}
}

// hop journals and writes a single FSM edge.
func (s *Service) hop(ctx context.Context, tx *repository.Store, fx *effects, p *domain.Payment, next domain.PaymentStatus, source string, extra map[string]interface{}) error {
	now := s.clock.Now()
	if err := tx.Payments.RecordTransition(ctx, &domain.PaymentTransition{
		PaymentID:  p.ID,
		FromStatus: p.Status,
		ToStatus:   next,
		Source:     source,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("journal %s -> %s: %w", p.Status, next, err)
	}

	cols := map[string]interface{}{"status": next, "updated_at": now}
	if next.IsTerminal() && next != domain.PaymentRefunded {
		cols["completed_at"] = now
	}
	for k, v := range extra {
		cols[k] = v
	}
	if err := tx.Payments.Update(ctx, p.ID, p.Status, cols); err != nil {
		return fmt.Errorf("payment %d %s -> %s: %w", p.ID, p.Status, next, err)
	}
	p.Status = next
	p.UpdatedAt = now
	fx.hops = append(fx.hops, hopRecord{source: source, to: next})
	return nil
}

func (s *Service) followOn(ctx context.Context, tx *repository.Store, fx *effects, appt *domain.Appointment, p *domain.Payment, tr transition) error {
	switch p.Status {
	case domain.PaymentSuccess:
		return s.confirm(ctx, tx, fx, appt, p)
	case domain.PaymentFailed, domain.PaymentExpired, domain.PaymentCancelled:
		return s.release(ctx, tx, fx, appt, p, tr)
	case domain.PaymentRefunded:
		fx.events.Add(notifier.Event{
			Type:           notifier.EventPaymentRefunded,
			UserRefs:       []int64{p.PatientRef},
			AppointmentRef: appt.ID,
			PaymentRef:     p.ID,
			Subject:        "Your payment has been refunded",
			Body:           fmt.Sprintf("Payment %s of %d %s was refunded.", p.MerchantTxnID, p.AmountCents, p.Currency),
			At:             s.clock.Now(),
		})
		if appt.Status == domain.AppointmentConfirmed {
			return s.cancelConfirmed(ctx, tx, fx, appt, domain.ReasonRefunded)
		}
	}
	return nil
}

// confirm records the redemption and confirms the appointment once the
// payment is captured. A capture that lands on an appointment already
// released (expired or cancelled) leaves it cancelled pending a refund.
func (s *Service) confirm(ctx context.Context, tx *repository.Store, fx *effects, appt *domain.Appointment, p *domain.Payment) error {
	now := s.clock.Now()
	if p.RedeemCodeRef != nil {
		overused, err := redeem.Record(ctx, tx, *p.RedeemCodeRef, p.PatientRef, p.ID, p.DiscountCents, now)
		if err != nil {
			return fmt.Errorf("record redemption: %w", err)
		}
		if overused {
			if err := s.reconcile(ctx, tx, fx, appt, p, domain.ReconRedeemOveruse,
				fmt.Sprintf("redeem code %d exceeded its usage limit at capture", *p.RedeemCodeRef)); err != nil {
				return err
			}
		}
	}

	switch appt.Status {
	case domain.AppointmentPendingPayment:
		creds, err := s.rooms.Mint(ctx, tx, appt)
		if err != nil {
			return err
		}
		if err := tx.Appointments.Transition(ctx, appt.ID, appt.Status, domain.AppointmentConfirmed, now, map[string]interface{}{
			"room_ref":      creds.RoomID,
			"confirmed_at":  now,
			"status_reason": "",
		}); err != nil {
			return fmt.Errorf("confirm appointment %d: %w", appt.ID, err)
		}
		appt.Status = domain.AppointmentConfirmed
		appt.RoomRef = &creds.RoomID
		appt.ConfirmedAt = &now

		users := []int64{appt.PatientRef}
		if appt.DoctorRef != nil {
			users = append(users, *appt.DoctorRef)
		}
		fx.events.Add(notifier.Event{
			Type:           notifier.EventAppointmentConfirmed,
			UserRefs:       users,
			AppointmentRef: appt.ID,
			PaymentRef:     p.ID,
			Subject:        "Your virtual consultation is confirmed",
			Body:           fmt.Sprintf("Consultation on %s is confirmed. Join from the app up to the start time.", appt.ScheduledAt.UTC().Format("2006-01-02 15:04 MST")),
			Data:           map[string]interface{}{"roomId": creds.RoomID, "validFrom": creds.ValidFrom, "validUntil": creds.ValidUntil},
			At:             now,
		})
		s.log.Info().
			Int64("appointment_id", appt.ID).
			Int64("payment_id", p.ID).
			Str("room_id", creds.RoomID).
			Msg("appointment confirmed")

	case domain.AppointmentExpired, domain.AppointmentCancelled:
		if appt.StatusReason == domain.ReasonOverbookedRefundPending {
			return nil
		}
		if err := tx.Appointments.Transition(ctx, appt.ID, appt.Status, domain.AppointmentCancelled, now, map[string]interface{}{
			"status_reason": domain.ReasonOverbookedRefundPending,
		}); err != nil {
			return fmt.Errorf("cancel overbooked appointment %d: %w", appt.ID, err)
		}
		appt.Status = domain.AppointmentCancelled
		appt.StatusReason = domain.ReasonOverbookedRefundPending
		fx.events.Add(notifier.Event{
			Type:           notifier.EventAppointmentCancelled,
			UserRefs:       []int64{appt.PatientRef},
			AppointmentRef: appt.ID,
			PaymentRef:     p.ID,
			Subject:        "Your payment arrived after the booking was released",
			Body:           "The slot was released before your payment was confirmed. The amount will be refunded.",
			At:             now,
		})
	}
	return nil
}

// release frees the slot of an appointment whose payment will not complete.
func (s *Service) release(ctx context.Context, tx *repository.Store, fx *effects, appt *domain.Appointment, p *domain.Payment, tr transition) error {
	if appt.Status != domain.AppointmentPendingPayment {
		return nil
	}
	to, reason := domain.AppointmentExpired, domain.ReasonPaymentFailed
	switch p.Status {
	case domain.PaymentExpired:
		reason = domain.ReasonPaymentExpired
	case domain.PaymentCancelled:
		to, reason = domain.AppointmentCancelled, domain.ReasonPaymentCancelled
	}
	if tr.apptTo != "" {
		to, reason = tr.apptTo, tr.reason
	}

	now := s.clock.Now()
	if err := tx.Appointments.Transition(ctx, appt.ID, appt.Status, to, now, map[string]interface{}{
		"status_reason": reason,
	}); err != nil {
		return fmt.Errorf("release appointment %d: %w", appt.ID, err)
	}
	appt.Status = to
	appt.StatusReason = reason

	evt := notifier.EventAppointmentExpired
	if to == domain.AppointmentCancelled {
		evt = notifier.EventAppointmentCancelled
	}
	if p.Status == domain.PaymentFailed {
		evt = notifier.EventPaymentFailed
	}
	fx.events.Add(notifier.Event{
		Type:           evt,
		UserRefs:       []int64{appt.PatientRef},
		AppointmentRef: appt.ID,
		PaymentRef:     p.ID,
		Subject:        "Your booking was not completed",
		Body:           fmt.Sprintf("Payment %s ended as %s; the slot has been released.", p.MerchantTxnID, p.Status),
		Data:           map[string]interface{}{"reason": reason},
		At:             now,
	})
	return nil
}

// cancelConfirmed cancels a confirmed appointment and revokes its room.
func (s *Service) cancelConfirmed(ctx context.Context, tx *repository.Store, fx *effects, appt *domain.Appointment, reason string) error {
	now := s.clock.Now()
	if err := tx.Appointments.Transition(ctx, appt.ID, domain.AppointmentConfirmed, domain.AppointmentCancelled, now, map[string]interface{}{
		"status_reason": reason,
		"room_ref":      nil,
	}); err != nil {
		return fmt.Errorf("cancel appointment %d: %w", appt.ID, err)
	}
	if appt.RoomRef != nil {
		if err := s.rooms.Revoke(ctx, tx, *appt.RoomRef); err != nil {
			return fmt.Errorf("revoke room %s: %w", *appt.RoomRef, err)
		}
		fx.disconnect = append(fx.disconnect, *appt.RoomRef)
	}
	appt.Status = domain.AppointmentCancelled
	appt.StatusReason = reason
	appt.RoomRef = nil

	users := []int64{appt.PatientRef}
	if appt.DoctorRef != nil {
		users = append(users, *appt.DoctorRef)
	}
	fx.events.Add(notifier.Event{
		Type:           notifier.EventAppointmentCancelled,
		UserRefs:       users,
		AppointmentRef: appt.ID,
		Subject:        "Virtual consultation cancelled",
		Body:           fmt.Sprintf("The consultation on %s has been cancelled.", appt.ScheduledAt.UTC().Format("2006-01-02 15:04 MST")),
		Data:           map[string]interface{}{"reason": reason},
		At:             now,
	})
	return nil
}

// reconcile records an admin-visible entry and alerts the window's
// addresses. An open entry of the same kind for the payment is not repeated.
func (s *Service) reconcile(ctx context.Context, tx *repository.Store, fx *effects, appt *domain.Appointment, p *domain.Payment, kind domain.ReconciliationKind, detail string) error {
	existing, err := tx.Reconciliations.ListByPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.Kind == kind && r.ResolvedAt == nil {
			return nil
		}
	}

	now := s.clock.Now()
	rec := &domain.Reconciliation{
		PaymentRef:     p.ID,
		AppointmentRef: appt.ID,
		MerchantTxnID:  p.MerchantTxnID,
		Kind:           kind,
		Detail:         detail,
		CreatedAt:      now,
	}
	if err := tx.Reconciliations.Create(ctx, rec); err != nil {
		return fmt.Errorf("record reconciliation: %w", err)
	}
	fx.recons = append(fx.recons, kind)

	var emails []string
	if w, err := tx.ServiceWindows.GetActive(ctx); err == nil && w != nil {
		emails = w.Emails()
	}
	fx.events.Add(notifier.Event{
		Type:           notifier.EventReconciliation,
		AppointmentRef: appt.ID,
		PaymentRef:     p.ID,
		Emails:         emails,
		Subject:        fmt.Sprintf("[%s] payment %s needs review", kind, p.MerchantTxnID),
		Body:           detail,
		Data:           map[string]interface{}{"reconciliationId": rec.ID, "kind": kind},
		At:             now,
	})
	s.log.Warn().
		Int64("payment_id", p.ID).
		Str("merchant_txn_id", p.MerchantTxnID).
		Str("kind", string(kind)).
		Msg(detail)
	return nil
}
