package domain

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "CREATED"
	PaymentInitiated  PaymentStatus = "INITIATED"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSuccess    PaymentStatus = "SUCCESS"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentExpired    PaymentStatus = "EXPIRED"
)

// Edge lists are ordered; Path relies on the order for deterministic routes.
var paymentEdges = map[PaymentStatus][]PaymentStatus{
	PaymentCreated:    {PaymentInitiated, PaymentFailed, PaymentCancelled, PaymentExpired},
	PaymentInitiated:  {PaymentProcessing, PaymentFailed, PaymentCancelled, PaymentExpired},
	PaymentProcessing: {PaymentSuccess, PaymentFailed, PaymentCancelled, PaymentExpired},
	PaymentSuccess:    {PaymentRefunded},
}

func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, next := range paymentEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSuccess, PaymentFailed, PaymentCancelled, PaymentRefunded, PaymentExpired:
		return true
	}
	return false
}

// IsActive reports whether the payment still blocks a new one for its appointment.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentCreated || s == PaymentInitiated || s == PaymentProcessing
}

// AllowsLateCapture reports whether a gateway SUCCESS may still be recorded
// after the payment was closed locally.
func (s PaymentStatus) AllowsLateCapture() bool {
	return s == PaymentFailed || s == PaymentCancelled || s == PaymentExpired
}

// PaymentPath returns the shortest hop sequence from one state to another,
// excluding from itself. ok is false when target is unreachable.
func PaymentPath(from, to PaymentStatus) ([]PaymentStatus, bool) {
	if from == to {
		return nil, true
	}
	prev := map[PaymentStatus]PaymentStatus{}
	queue := []PaymentStatus{from}
	seen := map[PaymentStatus]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range paymentEdges[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			prev[next] = cur
			if next == to {
				var path []PaymentStatus
				for s := to; s != from; s = prev[s] {
					path = append([]PaymentStatus{s}, path...)
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

type Payment struct {
	ID                 int64          `gorm:"primaryKey" json:"id"`
	AppointmentRef     int64          `gorm:"not null;index" json:"appointment_ref"`
	PatientRef         int64          `gorm:"not null;index" json:"patient_ref"`
	MerchantTxnID      string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_payments_merchant_txn_id" json:"merchant_txn_id"`
	GatewayOrderID     *string        `gorm:"type:varchar(128);uniqueIndex:ux_payments_gateway_order_id" json:"gateway_order_id,omitempty"`
	AmountCents        int64          `gorm:"not null" json:"amount_cents"`
	DiscountCents      int64          `gorm:"not null;default:0" json:"discount_cents"`
	Currency           string         `gorm:"type:varchar(3);not null" json:"currency"`
	Method             string         `gorm:"type:varchar(32);not null" json:"method"`
	Status             PaymentStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	RedeemCodeRef      *int64         `json:"redeem_code_ref,omitempty"`
	RedirectURL        string         `gorm:"type:text" json:"redirect_url,omitempty"`
	GatewayRawResponse datatypes.JSON `json:"-"`
	InitiatedAt        *time.Time     `json:"initiated_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	ChecksumVerifiedAt *time.Time     `json:"checksum_verified_at,omitempty"`
	LastCheckedAt      *time.Time     `json:"last_checked_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;autoUpdateTime:false;index" json:"updated_at"`
}

// Transition sources.
const (
	SourceInitiate = "initiate"
	SourceCallback = "callback"
	SourcePoll     = "poll"
	SourceSweep    = "sweep"
	SourceUser     = "user"
	SourceAdmin    = "admin"
	SourceZeroCost = "zero_amount"
)

// PaymentTransition journals one FSM hop. (payment_id, to_status) is unique,
// which makes replays of the same hop collide instead of double-applying.
type PaymentTransition struct {
	ID         int64         `gorm:"primaryKey"`
	PaymentID  int64         `gorm:"not null;uniqueIndex:ux_payment_transitions_target,priority:1"`
	FromStatus PaymentStatus `gorm:"type:varchar(20);not null"`
	ToStatus   PaymentStatus `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_transitions_target,priority:2"`
	Source     string        `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time     `gorm:"not null;autoCreateTime:false"`
}
