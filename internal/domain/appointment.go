package domain

import (
	"time"

	"gorm.io/gorm"
)

type AppointmentKind string

const (
	AppointmentInPerson AppointmentKind = "IN_PERSON"
	AppointmentVirtual  AppointmentKind = "VIRTUAL"
)

type AppointmentStatus string

const (
	AppointmentPendingPayment AppointmentStatus = "PENDING_PAYMENT"
	AppointmentConfirmed      AppointmentStatus = "CONFIRMED"
	AppointmentCancelled      AppointmentStatus = "CANCELLED"
	AppointmentExpired        AppointmentStatus = "EXPIRED"
	AppointmentCompleted      AppointmentStatus = "COMPLETED"
)

// Status reasons recorded alongside terminal appointment states.
const (
	ReasonPaymentFailed           = "payment_failed"
	ReasonPaymentExpired          = "payment_expired"
	ReasonPaymentCancelled        = "payment_cancelled"
	ReasonHoldExpired             = "hold_expired"
	ReasonUserCancelled           = "user_cancelled"
	ReasonRefunded                = "refunded"
	ReasonOverbookedRefundPending = "overbooked_refund_pending"
)

var appointmentEdges = map[AppointmentStatus][]AppointmentStatus{
	AppointmentPendingPayment: {AppointmentConfirmed, AppointmentExpired, AppointmentCancelled},
	AppointmentConfirmed:      {AppointmentCompleted, AppointmentCancelled},
	// money captured after the hold expired; the booking is cancelled pending refund
	AppointmentExpired: {AppointmentCancelled},
}

func (s AppointmentStatus) CanTransitionTo(target AppointmentStatus) bool {
	for _, next := range appointmentEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentCancelled || s == AppointmentExpired || s == AppointmentCompleted
}

// HoldsSlot reports whether the appointment occupies its (doctor, time) slot.
func (s AppointmentStatus) HoldsSlot() bool {
	return s == AppointmentPendingPayment || s == AppointmentConfirmed
}

type Appointment struct {
	ID              int64             `gorm:"primaryKey" json:"id"`
	PatientRef      int64             `gorm:"not null;index" json:"patient_ref"`
	DoctorRef       *int64            `gorm:"index" json:"doctor_ref,omitempty"`
	Kind            AppointmentKind   `gorm:"type:varchar(16);not null" json:"kind"`
	ScheduledAt     time.Time         `gorm:"not null;index" json:"scheduled_at"`
	DurationMinutes int               `gorm:"not null" json:"duration_minutes"`
	EndAt           time.Time         `gorm:"index" json:"end_at"`
	Status          AppointmentStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	StatusReason    string            `gorm:"type:varchar(64)" json:"status_reason,omitempty"`
	RoomRef         *string           `gorm:"type:varchar(64)" json:"room_ref,omitempty"`
	PriceCents      int64             `gorm:"not null" json:"price_cents"`
	Currency        string            `gorm:"type:varchar(3);not null" json:"currency"`
	RedeemCodeRef   *int64            `json:"redeem_code_ref,omitempty"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

// EndsAt is the scheduled end of the consultation.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// BeforeCreate stores the scheduled end so the sweep can select finished
// consultations in SQL.
func (a *Appointment) BeforeCreate(_ *gorm.DB) error {
	a.EndAt = a.EndsAt()
	return nil
}

// IsParticipant reports whether userID is the patient or the assigned doctor.
func (a *Appointment) IsParticipant(userID int64) bool {
	return a.PatientRef == userID || (a.DoctorRef != nil && *a.DoctorRef == userID)
}
