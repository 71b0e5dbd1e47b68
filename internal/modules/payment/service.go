package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dentalclinic/internal/database"
	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/notifier"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/pkg/idgen"
	"dentalclinic/internal/pkg/metrics"
	"dentalclinic/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

const defaultMethod = "PAY_PAGE"

type Config struct {
	CallbackURL  string
	RedirectURL  string
	HoldTTL      time.Duration
	PollInterval time.Duration
	SweepBatch   int
}

var (
	errNotAwaitingPayment = apperr.Conflict(apperr.CodeInvalidTransition, "appointment is not awaiting payment")
	errPaymentInProgress  = apperr.Conflict(apperr.CodeInvalidTransition, "a payment is already in progress for this appointment")
)

// Service is the payment orchestrator: it owns the payment FSM and the
// appointment transitions that follow from it.
type Service struct {
	store    *repository.Store
	gateway  gatewayClient
	rooms    roomBroker
	notifier notifier.Notifier
	ids      idgen.Generator
	clock    clock.Clock
	cfg      Config
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewService(store *repository.Store, gw gatewayClient, rooms roomBroker, n notifier.Notifier, ids idgen.Generator, clk clock.Clock, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &Service{
		store:    store,
		gateway:  gw,
		rooms:    rooms,
		notifier: n,
		ids:      ids,
		clock:    clk,
		cfg:      cfg,
		metrics:  m,
		log:      log.With().Str("component", "payment").Logger(),
	}
}

// Initiate opens (or resumes) the payment of a PENDING_PAYMENT appointment.
// A zero final amount confirms the appointment without the gateway.
func (s *Service) Initiate(ctx context.Context, actor policy.Actor, req InitiateRequest) (*InitiateResponse, error) {
	method := req.Method
	if method == "" {
		method = defaultMethod
	}

	var (
		p       *domain.Payment
		appt    *domain.Appointment
		resumed bool
	)
	fx := &effects{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		appt, err = tx.Appointments.GetByIDForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		if err := policy.Authorise(actor, policy.OpInitiatePayment, policy.Resource{OwnerRef: appt.PatientRef}); err != nil {
			return err
		}
		if appt.Status != domain.AppointmentPendingPayment {
			return errNotAwaitingPayment
		}

		active, err := tx.Payments.FindActive(ctx, appt.ID)
		if err != nil {
			return err
		}
		if active != nil {
			p, resumed = active, true
			return nil
		}

		now := s.clock.Now()
		quote, err := s.quote(ctx, tx, appt, now)
		if err != nil {
			return err
		}
		p = &domain.Payment{
			AppointmentRef: appt.ID,
			PatientRef:     appt.PatientRef,
			MerchantTxnID:  s.ids.MerchantTxnID(),
			AmountCents:    quote.FinalCents,
			DiscountCents:  quote.DiscountCents,
			Currency:       appt.Currency,
			Method:         method,
			Status:         domain.PaymentCreated,
			RedeemCodeRef:  appt.RedeemCodeRef,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Payments.Create(ctx, p); err != nil {
			if database.IsUniqueViolation(err) {
				return errPaymentInProgress
			}
			return err
		}

		if quote.FinalCents == 0 {
			_, err := s.advance(ctx, tx, fx, appt, p, transition{target: domain.PaymentSuccess, source: domain.SourceZeroCost})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, s.boundary(err, "appointment")
	}
	s.commit(fx)

	if p.Status == domain.PaymentSuccess {
		s.log.Info().Int64("payment_id", p.ID).Int64("appointment_id", appt.ID).Msg("zero-amount payment confirmed without gateway")
		return s.initiateResponse(p, appt.Status), nil
	}
	if resumed && p.Status != domain.PaymentCreated {
		return s.initiateResponse(p, appt.Status), nil
	}
	return s.openSession(ctx, p)
}

func (s *Service) quote(ctx context.Context, tx *repository.Store, appt *domain.Appointment, now time.Time) (policy.Quote, error) {
	if appt.RedeemCodeRef == nil {
		return policy.Quote{PriceCents: appt.PriceCents, FinalCents: appt.PriceCents}, nil
	}
	code, err := tx.RedeemCodes.GetByID(ctx, *appt.RedeemCodeRef)
	if err != nil {
		return policy.Quote{}, err
	}
	used, err := tx.RedeemCodes.CountUserRedemptions(ctx, code.ID, appt.PatientRef)
	if err != nil {
		return policy.Quote{}, err
	}
	return policy.ApplyRedeem(appt.PriceCents, code, used, appt.Kind, now)
}

// openSession calls the gateway outside any transaction and records the ack
// or the rejection.
func (s *Service) openSession(ctx context.Context, p *domain.Payment) (*InitiateResponse, error) {
	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		MerchantTxnID: p.MerchantTxnID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		CallbackURL:   s.cfg.CallbackURL,
		RedirectURL:   s.cfg.RedirectURL,
		Payer:         gateway.Payer{UserRef: p.PatientRef},
		ExpireAfter:   s.cfg.HoldTTL,
	})
	if err != nil {
		return nil, s.sessionFailed(ctx, p, err)
	}

	var (
		cur     *domain.Payment
		apptNow domain.AppointmentStatus
	)
	fx := &effects{}
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		a, locked, err := lockPair(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		cur, apptNow = locked, a.Status
		if locked.Status != domain.PaymentCreated {
			// a callback or the sweep got there first
			return nil
		}
		now := s.clock.Now()
		cols := map[string]interface{}{
			"gateway_order_id": session.GatewayOrderID,
			"redirect_url":     session.RedirectTarget,
			"initiated_at":     now,
		}
		if len(session.Raw) > 0 {
			cols["gateway_raw_response"] = datatypes.JSON(session.Raw)
		}
		_, err = s.advance(ctx, tx, fx, a, locked, transition{target: domain.PaymentInitiated, source: domain.SourceInitiate, columns: cols})
		if err != nil {
			return err
		}
		locked.RedirectURL = session.RedirectTarget
		locked.GatewayOrderID = &session.GatewayOrderID
		return nil
	})
	if err != nil {
		return nil, s.boundary(err, "payment")
	}
	s.commit(fx)

	s.log.Info().
		Int64("payment_id", cur.ID).
		Str("merchant_txn_id", cur.MerchantTxnID).
		Str("gateway_order_id", session.GatewayOrderID).
		Msg("payment session opened")
	return s.initiateResponse(cur, apptNow), nil
}

// sessionFailed maps a createSession error. A rejection fails the payment
// and releases the slot; anything else leaves the payment CREATED so the
// client can retry initiate.
func (s *Service) sessionFailed(ctx context.Context, p *domain.Payment, err error) error {
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		return apperr.Wrap(apperr.KindUpstreamTransient, apperr.CodeUpstreamUnavailable, "payment gateway unavailable", err)
	}
	switch gerr.Category {
	case gateway.CategoryValidation:
		fx := &effects{}
		txErr := s.store.InTx(ctx, func(tx *repository.Store) error {
			appt, locked, err := lockPair(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			_, err = s.advance(ctx, tx, fx, appt, locked, transition{target: domain.PaymentFailed, source: domain.SourceInitiate})
			return err
		})
		if txErr != nil {
			return s.boundary(txErr, "payment")
		}
		s.commit(fx)
		s.log.Warn().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("gateway rejected payment session")
		return apperr.Wrap(apperr.KindUpstreamFatal, apperr.CodeGatewayRejected, "payment was rejected by the gateway", err)
	case gateway.CategoryAuth:
		s.log.Error().Err(err).Msg("gateway credentials rejected")
		return apperr.Wrap(apperr.KindUpstreamFatal, apperr.CodeGatewayAuth, "payment gateway authentication failed", err)
	case gateway.CategoryRateLimited:
		return apperr.Wrap(apperr.KindUpstreamTransient, apperr.CodeRateLimited, "payment gateway is rate limiting, retry shortly", err)
	default:
		return apperr.Wrap(apperr.KindUpstreamTransient, apperr.CodeUpstreamUnavailable, "payment gateway unavailable", err)
	}
}

func (s *Service) initiateResponse(p *domain.Payment, apptStatus domain.AppointmentStatus) *InitiateResponse {
	return &InitiateResponse{
		PaymentID:         p.ID,
		MerchantTxnID:     p.MerchantTxnID,
		RedirectTarget:    p.RedirectURL,
		PaymentStatus:     p.Status,
		AppointmentStatus: apptStatus,
		AmountCents:       p.AmountCents,
	}
}

// Status reports the stored payment and appointment states, polling the
// gateway first when an in-flight payment has been quiet for too long.
func (s *Service) Status(ctx context.Context, actor policy.Actor, paymentID int64) (*StatusResponse, error) {
	p, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, s.boundary(err, "payment")
	}
	if err := policy.Authorise(actor, policy.OpViewPaymentStatus, policy.Resource{OwnerRef: p.PatientRef}); err != nil {
		return nil, err
	}

	if s.shouldPoll(p) {
		if _, err := s.poll(ctx, p, domain.SourcePoll); err != nil {
			s.log.Warn().Err(err).Int64("payment_id", p.ID).Msg("status poll failed, answering from store")
		}
		if p, err = s.store.Payments.GetByID(ctx, paymentID); err != nil {
			return nil, s.boundary(err, "payment")
		}
	}

	appt, err := s.store.Appointments.GetByID(ctx, p.AppointmentRef)
	if err != nil {
		return nil, s.boundary(err, "appointment")
	}
	out := &StatusResponse{
		PaymentID:         p.ID,
		AppointmentID:     appt.ID,
		PaymentStatus:     p.Status,
		AppointmentStatus: appt.Status,
	}
	if appt.RoomRef != nil {
		out.RoomID = *appt.RoomRef
	}
	return out, nil
}

func (s *Service) shouldPoll(p *domain.Payment) bool {
	if p.Status != domain.PaymentInitiated && p.Status != domain.PaymentProcessing {
		return false
	}
	last := p.UpdatedAt
	if p.LastCheckedAt != nil && p.LastCheckedAt.After(last) {
		last = *p.LastCheckedAt
	}
	return s.clock.Now().Sub(last) >= s.cfg.PollInterval
}

// poll fetches the gateway's view of p and applies it.
func (s *Service) poll(ctx context.Context, p *domain.Payment, source string) (outcome, error) {
	res, err := s.gateway.FetchStatus(ctx, p.MerchantTxnID)
	if err != nil {
		if terr := s.store.Payments.Touch(ctx, p.ID, s.clock.Now()); terr != nil {
			s.log.Error().Err(terr).Int64("payment_id", p.ID).Msg("failed to record status check")
		}
		return "", err
	}
	if res.MerchantTxnID == "" {
		res.MerchantTxnID = p.MerchantTxnID
	}
	return s.applyResult(ctx, res, source)
}

// applyResult is the shared path for callbacks, polls and the sweep.
func (s *Service) applyResult(ctx context.Context, res *gateway.StatusResult, source string) (outcome, error) {
	target, ok := targetFor(res.Status)
	if !ok {
		s.log.Warn().Str("merchant_txn_id", res.MerchantTxnID).Str("status", string(res.Status)).Msg("unmapped gateway status ignored")
		return outcomeIgnored, nil
	}

	var out outcome
	fx := &effects{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		ref, err := tx.Payments.GetByMerchantTxnID(ctx, res.MerchantTxnID)
		if errors.Is(err, repository.ErrNotFound) {
			out = outcomeUnknownPayment
			return nil
		}
		if err != nil {
			return err
		}
		appt, p, err := lockPair(ctx, tx, ref.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		if res.AmountCents != 0 && res.AmountCents != p.AmountCents {
			out = outcomeAmountMismatch
			if err := tx.Payments.Touch(ctx, p.ID, now); err != nil {
				return err
			}
			return s.reconcile(ctx, tx, fx, appt, p, domain.ReconAmountMismatch,
				fmt.Sprintf("gateway reported %d for %s, expected %d", res.AmountCents, res.Status, p.AmountCents))
		}

		cols := map[string]interface{}{"last_checked_at": now}
		if len(res.Raw) > 0 {
			cols["gateway_raw_response"] = datatypes.JSON(res.Raw)
		}
		if res.GatewayOrderID != "" && p.GatewayOrderID == nil {
			cols["gateway_order_id"] = res.GatewayOrderID
		}
		if source == domain.SourceCallback {
			cols["checksum_verified_at"] = now
		}

		out, err = s.advance(ctx, tx, fx, appt, p, transition{target: target, source: source, columns: cols})
		if err != nil {
			return err
		}
		switch out {
		case outcomeConflict:
			if err := s.reconcile(ctx, tx, fx, appt, p, domain.ReconConflictingCallback,
				fmt.Sprintf("payment is %s but gateway reported %s via %s", p.Status, res.Status, source)); err != nil {
				return err
			}
			return tx.Payments.Touch(ctx, p.ID, now)
		case outcomeDuplicate, outcomeStale:
			return tx.Payments.Touch(ctx, p.ID, now)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.commit(fx)
	return out, nil
}

// Cancel withdraws a booking. A pending appointment's payment is cancelled
// with a best-effort gateway cancel; a confirmed appointment may be cancelled
// until it starts.
func (s *Service) Cancel(ctx context.Context, actor policy.Actor, appointmentID int64) (*CancelResponse, error) {
	var (
		out      CancelResponse
		gwCancel string
	)
	fx := &effects{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		appt, err := tx.Appointments.GetByIDForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := policy.Authorise(actor, policy.OpCancelAppointment, policy.Resource{OwnerRef: appt.PatientRef}); err != nil {
			return err
		}
		now := s.clock.Now()

		switch appt.Status {
		case domain.AppointmentPendingPayment:
			active, err := tx.Payments.FindActive(ctx, appt.ID)
			if err != nil {
				return err
			}
			if active == nil {
				if err := tx.Appointments.Transition(ctx, appt.ID, appt.Status, domain.AppointmentExpired, now, map[string]interface{}{
					"status_reason": domain.ReasonUserCancelled,
				}); err != nil {
					return err
				}
				out.AppointmentStatus = domain.AppointmentExpired
				return nil
			}
			_, err = s.advance(ctx, tx, fx, appt, active, transition{
				target: domain.PaymentCancelled,
				source: domain.SourceUser,
				apptTo: domain.AppointmentExpired,
				reason: domain.ReasonUserCancelled,
			})
			if err != nil {
				return err
			}
			if active.GatewayOrderID != nil {
				gwCancel = active.MerchantTxnID
			}
			out.AppointmentStatus = appt.Status
			out.PaymentStatus = active.Status
			return nil

		case domain.AppointmentConfirmed:
			if !now.Before(appt.ScheduledAt) {
				return apperr.Conflict(apperr.CodeInvalidTransition, "the consultation has already started")
			}
			if err := s.cancelConfirmed(ctx, tx, fx, appt, domain.ReasonUserCancelled); err != nil {
				return err
			}
			out.AppointmentStatus = appt.Status
			return nil
		}
		return apperr.Conflict(apperr.CodeInvalidTransition, "appointment can no longer be cancelled")
	})
	if err != nil {
		return nil, s.boundary(err, "appointment")
	}
	s.commit(fx)

	if gwCancel != "" {
		if err := s.gateway.Cancel(ctx, gwCancel); err != nil {
			s.log.Warn().Err(err).Str("merchant_txn_id", gwCancel).Msg("gateway cancel failed")
		}
	}
	s.log.Info().Int64("appointment_id", appointmentID).Str("status", string(out.AppointmentStatus)).Msg("appointment cancelled by patient")
	return &out, nil
}

// Refund records an admin refund of a captured payment. Money movement
// happens outside this service.
func (s *Service) Refund(ctx context.Context, actor policy.Actor, paymentID int64, req RefundRequest) (*RefundResponse, error) {
	if err := policy.Authorise(actor, policy.OpRefundPayment, policy.Resource{}); err != nil {
		return nil, err
	}
	var out RefundResponse
	fx := &effects{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		appt, p, err := lockPair(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentSuccess && p.Status != domain.PaymentRefunded {
			return apperr.Conflict(apperr.CodeInvalidTransition, "only captured payments can be refunded").
				WithDetails(map[string]string{"paymentStatus": string(p.Status)})
		}
		if _, err := s.advance(ctx, tx, fx, appt, p, transition{target: domain.PaymentRefunded, source: domain.SourceAdmin}); err != nil {
			return err
		}
		out = RefundResponse{PaymentID: p.ID, PaymentStatus: p.Status, AppointmentStatus: appt.Status}
		return nil
	})
	if err != nil {
		return nil, s.boundary(err, "payment")
	}
	s.commit(fx)
	s.log.Info().Int64("payment_id", paymentID).Int64("admin_id", actor.UserID).Str("reason", req.Reason).Msg("payment refunded")
	return &out, nil
}

// ListReconciliations returns recent entries, open ones only unless all.
func (s *Service) ListReconciliations(ctx context.Context, actor policy.Actor, all bool, limit int) ([]domain.Reconciliation, error) {
	if err := policy.Authorise(actor, policy.OpManageReconciliations, policy.Resource{}); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out, err := s.store.Reconciliations.List(ctx, !all, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) ResolveReconciliation(ctx context.Context, actor policy.Actor, id int64) (*domain.Reconciliation, error) {
	if err := policy.Authorise(actor, policy.OpManageReconciliations, policy.Resource{}); err != nil {
		return nil, err
	}
	rec, err := s.store.Reconciliations.Resolve(ctx, id, actor.UserID, s.clock.Now())
	if err != nil {
		return nil, s.boundary(err, "reconciliation")
	}
	return rec, nil
}

// boundary maps store errors; apperr values pass through unchanged.
func (s *Service) boundary(err error, resource string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(resource)
	case errors.Is(err, repository.ErrStaleState):
		return apperr.Wrap(apperr.KindConflict, apperr.CodeInvalidTransition, "state changed concurrently, retry", err)
	}
	return apperr.Internal(err)
}
