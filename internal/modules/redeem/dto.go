package redeem

import "time"

type CreateRequest struct {
	Code             string    `json:"code" validate:"required,alphanum,max=64"`
	DiscountKind     string    `json:"discountKind" validate:"required,oneof=PERCENT FLAT"`
	Value            int64     `json:"value" validate:"required,gt=0"`
	MinOrderCents    int64     `json:"minOrderCents" validate:"gte=0"`
	MaxDiscountCents int64     `json:"maxDiscountCents" validate:"gte=0"`
	UsageLimit       int64     `json:"usageLimit" validate:"gte=0"`
	PerUserLimit     int64     `json:"perUserLimit" validate:"gte=0"`
	ValidFrom        time.Time `json:"validFrom" validate:"required"`
	ValidUntil       time.Time `json:"validUntil" validate:"required,gtfield=ValidFrom"`
	Active           *bool     `json:"active"`
	Applicability    string    `json:"applicability" validate:"omitempty,oneof=ALL VIRTUAL_ONLY"`
}
