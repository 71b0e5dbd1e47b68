package redeem

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
	"dentalclinic/internal/repository"
)

type Service struct {
	store      *repository.Store
	clock      clock.Clock
	priceCents int64
}

// NewService wires code management. priceCents is the quote base when a
// validation request does not name an amount.
func NewService(store *repository.Store, clk clock.Clock, priceCents int64) *Service {
	return &Service{store: store, clock: clk, priceCents: priceCents}
}

func (s *Service) Create(ctx context.Context, actor policy.Actor, req CreateRequest) (*domain.RedeemCode, error) {
	if err := policy.Authorise(actor, policy.OpManageRedeemCodes, policy.Resource{}); err != nil {
		return nil, err
	}
	kind := domain.DiscountKind(req.DiscountKind)
	if kind == domain.DiscountPercent && req.Value > 100 {
		return nil, apperr.Validation(apperr.CodeValidation, "percent value must be between 1 and 100")
	}
	applicability := domain.ApplicableAll
	if req.Applicability != "" {
		applicability = domain.Applicability(req.Applicability)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	code := &domain.RedeemCode{
		Code:             req.Code,
		DiscountKind:     kind,
		Value:            req.Value,
		MinOrderCents:    req.MinOrderCents,
		MaxDiscountCents: req.MaxDiscountCents,
		UsageLimit:       req.UsageLimit,
		PerUserLimit:     req.PerUserLimit,
		ValidFrom:        req.ValidFrom.UTC(),
		ValidUntil:       req.ValidUntil.UTC(),
		Active:           active,
		Applicability:    applicability,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.RedeemCodes.Create(ctx, code); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict(apperr.CodeRedeemDuplicate, "redeem code already exists")
		}
		return nil, apperr.Internal(err)
	}
	return code, nil
}

func (s *Service) List(ctx context.Context, actor policy.Actor) ([]domain.RedeemCode, error) {
	if err := policy.Authorise(actor, policy.OpManageRedeemCodes, policy.Resource{}); err != nil {
		return nil, err
	}
	codes, err := s.store.RedeemCodes.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return codes, nil
}

// Validate quotes code for the caller without reserving anything.
func (s *Service) Validate(ctx context.Context, actor policy.Actor, raw string, amountCents int64) (policy.Quote, error) {
	if err := policy.Authorise(actor, policy.OpValidateRedeemCode, policy.Resource{}); err != nil {
		return policy.Quote{}, err
	}
	if amountCents <= 0 {
		amountCents = s.priceCents
	}
	code, err := s.store.RedeemCodes.GetByCode(ctx, raw)
	if errors.Is(err, repository.ErrNotFound) {
		return policy.Quote{}, apperr.Validation(apperr.CodeRedeemNotFound, "redeem code not found")
	}
	if err != nil {
		return policy.Quote{}, apperr.Internal(err)
	}
	used, err := s.store.RedeemCodes.CountUserRedemptions(ctx, code.ID, actor.UserID)
	if err != nil {
		return policy.Quote{}, apperr.Internal(err)
	}
	return policy.ApplyRedeem(amountCents, code, used, domain.AppointmentVirtual, s.clock.Now())
}

// Record counts one redemption of codeID for a captured payment inside tx.
// It is idempotent per payment. overused reports that the capture pushed the
// code past its usage limit, which happens when the same code was quoted to
// several holds before any of them was captured.
func Record(ctx context.Context, tx *repository.Store, codeID, userRef, paymentID, discountCents int64, at time.Time) (overused bool, err error) {
	code, err := tx.RedeemCodes.GetByIDForUpdate(ctx, codeID)
	if err != nil {
		return false, fmt.Errorf("lock redeem code %d: %w", codeID, err)
	}
	existing, err := tx.RedeemCodes.FindRedemptionByPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if err := tx.RedeemCodes.IncrementUsage(ctx, codeID); err != nil {
		return false, err
	}
	if err := tx.RedeemCodes.CreateRedemption(ctx, &domain.RedemptionRecord{
		RedeemCodeRef: codeID,
		UserRef:       userRef,
		PaymentRef:    paymentID,
		DiscountCents: discountCents,
		CreatedAt:     at,
	}); err != nil {
		return false, err
	}
	return code.UsageLimit > 0 && code.UsageCount+1 > code.UsageLimit, nil
}
