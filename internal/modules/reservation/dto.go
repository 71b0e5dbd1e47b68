package reservation

import "time"

type CreateVirtualRequest struct {
	DoctorRef   *int64    `json:"doctorRef" validate:"omitempty,gt=0"`
	PatientRef  *int64    `json:"patientRef" validate:"omitempty,gt=0"`
	ScheduledAt time.Time `json:"scheduledAt" binding:"required"`
	RedeemCode  string    `json:"redeemCode" validate:"omitempty,max=64"`
}

type ReserveRequest struct {
	PatientRef  int64
	DoctorRef   *int64
	ScheduledAt time.Time
	RedeemCode  string
}

type Reservation struct {
	AppointmentID int64     `json:"appointmentId"`
	DoctorRef     int64     `json:"doctorRef"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	PriceCents    int64     `json:"priceCents"`
	DiscountCents int64     `json:"discountCents"`
	FinalCents    int64     `json:"finalCents"`
}
