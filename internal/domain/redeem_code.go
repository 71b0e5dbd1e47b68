package domain

import (
	"strings"
	"time"
)

type DiscountKind string

const (
	DiscountPercent DiscountKind = "PERCENT"
	DiscountFlat    DiscountKind = "FLAT"
)

type Applicability string

const (
	ApplicableAll         Applicability = "ALL"
	ApplicableVirtualOnly Applicability = "VIRTUAL_ONLY"
)

// RedeemCode is a coupon. Value is a whole percent for PERCENT and cents for FLAT.
// Zero UsageLimit, PerUserLimit or MaxDiscountCents means unlimited.
type RedeemCode struct {
	ID               int64         `gorm:"primaryKey" json:"id"`
	Code             string        `gorm:"type:varchar(64);not null;uniqueIndex:ux_redeem_codes_code" json:"code"`
	DiscountKind     DiscountKind  `gorm:"type:varchar(10);not null" json:"discount_kind"`
	Value            int64         `gorm:"not null" json:"value"`
	MinOrderCents    int64         `gorm:"not null;default:0" json:"min_order_cents"`
	MaxDiscountCents int64         `gorm:"not null;default:0" json:"max_discount_cents"`
	UsageLimit       int64         `gorm:"not null;default:0" json:"usage_limit"`
	UsageCount       int64         `gorm:"not null;default:0" json:"usage_count"`
	PerUserLimit     int64         `gorm:"not null;default:0" json:"per_user_limit"`
	ValidFrom        time.Time     `gorm:"not null" json:"valid_from"`
	ValidUntil       time.Time     `gorm:"not null" json:"valid_until"`
	Active           bool          `gorm:"not null" json:"active"`
	Applicability    Applicability `gorm:"type:varchar(16);not null" json:"applicability"`
	CreatedAt        time.Time     `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

// NormalizeCode case-folds a code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type RedemptionRecord struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	RedeemCodeRef int64     `gorm:"not null;index:ix_redemptions_code_user,priority:1" json:"redeem_code_ref"`
	UserRef       int64     `gorm:"not null;index:ix_redemptions_code_user,priority:2" json:"user_ref"`
	PaymentRef    int64     `gorm:"not null;uniqueIndex:ux_redemption_records_payment" json:"payment_ref"`
	DiscountCents int64     `gorm:"not null" json:"discount_cents"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime:false" json:"created_at"`
}
