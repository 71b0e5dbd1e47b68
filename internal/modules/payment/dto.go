package payment

import "dentalclinic/internal/domain"

type InitiateRequest struct {
	AppointmentID int64  `json:"appointmentId" validate:"required,gt=0"`
	Method        string `json:"method" validate:"omitempty,oneof=PAY_PAGE UPI_INTENT UPI_COLLECT CARD NET_BANKING"`
}

type InitiateResponse struct {
	PaymentID         int64                    `json:"paymentId"`
	MerchantTxnID     string                   `json:"merchantTxnId"`
	RedirectTarget    string                   `json:"redirectTarget"`
	PaymentStatus     domain.PaymentStatus     `json:"paymentStatus"`
	AppointmentStatus domain.AppointmentStatus `json:"appointmentStatus"`
	AmountCents       int64                    `json:"amountCents"`
}

type StatusResponse struct {
	PaymentID         int64                    `json:"paymentId"`
	AppointmentID     int64                    `json:"appointmentId"`
	PaymentStatus     domain.PaymentStatus     `json:"paymentStatus"`
	AppointmentStatus domain.AppointmentStatus `json:"appointmentStatus"`
	RoomID            string                   `json:"roomId,omitempty"`
}

type CancelResponse struct {
	AppointmentStatus domain.AppointmentStatus `json:"appointmentStatus"`
	PaymentStatus     domain.PaymentStatus     `json:"paymentStatus,omitempty"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

type RefundResponse struct {
	PaymentID         int64                    `json:"paymentId"`
	PaymentStatus     domain.PaymentStatus     `json:"paymentStatus"`
	AppointmentStatus domain.AppointmentStatus `json:"appointmentStatus"`
}

// CallbackResult is what HandleCallback did with an event; the HTTP reply
// is 200 regardless.
type CallbackResult struct {
	Outcome       string `json:"-"`
	MerchantTxnID string `json:"-"`
}
