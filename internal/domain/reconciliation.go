package domain

import "time"

type ReconciliationKind string

const (
	ReconLateCapture         ReconciliationKind = "LATE_CAPTURE"
	ReconConflictingCallback ReconciliationKind = "CONFLICTING_CALLBACK"
	ReconAmountMismatch      ReconciliationKind = "AMOUNT_MISMATCH"
	ReconRedeemOveruse       ReconciliationKind = "REDEEM_OVERUSE"
)

// Reconciliation is an admin-visible entry for money state that needs a human.
type Reconciliation struct {
	ID             int64              `gorm:"primaryKey" json:"id"`
	PaymentRef     int64              `gorm:"not null;index" json:"payment_ref"`
	AppointmentRef int64              `gorm:"not null" json:"appointment_ref"`
	MerchantTxnID  string             `gorm:"type:varchar(64);not null" json:"merchant_txn_id"`
	Kind           ReconciliationKind `gorm:"type:varchar(32);not null" json:"kind"`
	Detail         string             `gorm:"type:text" json:"detail"`
	ResolvedAt     *time.Time         `gorm:"index" json:"resolved_at,omitempty"`
	ResolvedBy     *int64             `json:"resolved_by,omitempty"`
	CreatedAt      time.Time          `gorm:"not null;autoCreateTime:false" json:"created_at"`
}
