package policy

import (
	"time"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/pkg/apperr"
)

// Quote is the priced outcome of applying an optional redeem code.
type Quote struct {
	PriceCents    int64 `json:"priceCents"`
	DiscountCents int64 `json:"discountCents"`
	FinalCents    int64 `json:"finalCents"`
}

// ApplyRedeem prices priceCents with code. A nil code yields no discount.
// userUsageCount is how many times the redeeming user already used the code.
func ApplyRedeem(priceCents int64, code *domain.RedeemCode, userUsageCount int64, kind domain.AppointmentKind, now time.Time) (Quote, error) {
	if code == nil {
		return Quote{PriceCents: priceCents, FinalCents: priceCents}, nil
	}
	if err := checkRedeemable(priceCents, code, userUsageCount, kind, now); err != nil {
		return Quote{}, err
	}

	var discount int64
	switch code.DiscountKind {
	case domain.DiscountPercent:
		discount = divRoundHalfEven(priceCents*code.Value, 100)
		if code.MaxDiscountCents > 0 && discount > code.MaxDiscountCents {
			discount = code.MaxDiscountCents
		}
	case domain.DiscountFlat:
		discount = code.Value
	}
	if discount < 0 {
		discount = 0
	}
	if discount > priceCents {
		discount = priceCents
	}
	return Quote{PriceCents: priceCents, DiscountCents: discount, FinalCents: priceCents - discount}, nil
}

func checkRedeemable(priceCents int64, code *domain.RedeemCode, userUsageCount int64, kind domain.AppointmentKind, now time.Time) error {
	switch {
	case !code.Active:
		return apperr.Validation(apperr.CodeRedeemInactive, "redeem code is not active")
	case now.Before(code.ValidFrom) || now.After(code.ValidUntil):
		return apperr.Validation(apperr.CodeRedeemExpired, "redeem code is not valid at this time")
	case code.Applicability == domain.ApplicableVirtualOnly && kind != domain.AppointmentVirtual:
		return apperr.Validation(apperr.CodeRedeemNotApplicable, "redeem code applies to virtual consultations only")
	case priceCents < code.MinOrderCents:
		return apperr.Validation(apperr.CodeRedeemBelowMin, "order amount is below the code minimum")
	case code.UsageLimit > 0 && code.UsageCount >= code.UsageLimit:
		return apperr.Validation(apperr.CodeRedeemExhausted, "redeem code has been fully used")
	case code.PerUserLimit > 0 && userUsageCount >= code.PerUserLimit:
		return apperr.Validation(apperr.CodeRedeemUserExhausted, "redeem code already used by this account")
	}
	return nil
}

// divRoundHalfEven divides non-negative n by d rounding ties to even.
func divRoundHalfEven(n, d int64) int64 {
	q, r := n/d, n%d
	switch {
	case 2*r > d:
		q++
	case 2*r == d && q%2 == 1:
		q++
	}
	return q
}
