package gateway

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the normalised gateway outcome of an order.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusPending  Status = "PENDING"
	StatusFailed   Status = "FAILED"
	StatusTimeout  Status = "TIMEOUT"
	StatusUserDrop Status = "USER_DROP"
)

type Payer struct {
	UserRef int64
	Email   string
	Phone   string
}

type SessionRequest struct {
	MerchantTxnID string
	AmountCents   int64
	Currency      string
	CallbackURL   string
	RedirectURL   string
	Payer         Payer
	ExpireAfter   time.Duration
}

type Session struct {
	GatewayOrderID string
	RedirectTarget string
	ExpireAt       time.Time
	Raw            json.RawMessage
}

// StatusResult is a status poll answer or a decoded callback.
type StatusResult struct {
	Event          string
	MerchantTxnID  string
	GatewayOrderID string
	Status         Status
	AmountCents    int64
	SettlementMeta map[string]any
	Raw            json.RawMessage
}

// wire shapes

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	TokenType   string `json:"token_type"`
}

type payRequest struct {
	MerchantOrderID string            `json:"merchantOrderId"`
	Amount          int64             `json:"amount"`
	ExpireAfter     int64             `json:"expireAfter,omitempty"`
	MetaInfo        map[string]string `json:"metaInfo,omitempty"`
	PaymentFlow     paymentFlow       `json:"paymentFlow"`
}

type paymentFlow struct {
	Type         string       `json:"type"`
	MerchantURLs merchantURLs `json:"merchantUrls"`
}

type merchantURLs struct {
	RedirectURL string `json:"redirectUrl"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type payResponse struct {
	OrderID     string `json:"orderId"`
	State       string `json:"state"`
	ExpireAt    int64  `json:"expireAt"`
	RedirectURL string `json:"redirectUrl"`
}

type orderStatus struct {
	MerchantOrderID string           `json:"merchantOrderId"`
	OrderID         string           `json:"orderId"`
	State           string           `json:"state"`
	Amount          int64            `json:"amount"`
	ErrorCode       string           `json:"errorCode,omitempty"`
	DetailedError   string           `json:"detailedErrorCode,omitempty"`
	PaymentDetails  []map[string]any `json:"paymentDetails,omitempty"`
}

type callbackEnvelope struct {
	Event   string      `json:"event"`
	Payload orderStatus `json:"payload"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NormaliseState maps a raw gateway order state to Status. Unknown states
// return "".
func NormaliseState(state, errorCode string) Status {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED", "SUCCESS":
		return StatusSuccess
	case "PENDING":
		return StatusPending
	case "TIMEOUT", "TIMED_OUT", "EXPIRED":
		return StatusTimeout
	case "USER_DROP", "CANCELLED":
		return StatusUserDrop
	case "FAILED":
		switch strings.ToUpper(errorCode) {
		case "TIMED_OUT", "TXN_EXPIRED", "PAYMENT_TIMEOUT":
			return StatusTimeout
		case "USER_CANCELLED", "PAYMENT_CANCELLED", "USER_DROPPED":
			return StatusUserDrop
		}
		return StatusFailed
	}
	return ""
}

func (o orderStatus) result(raw json.RawMessage, event string) *StatusResult {
	meta := map[string]any{"state": o.State}
	if o.ErrorCode != "" {
		meta["errorCode"] = o.ErrorCode
	}
	if o.DetailedError != "" {
		meta["detailedErrorCode"] = o.DetailedError
	}
	if len(o.PaymentDetails) > 0 {
		meta["paymentDetails"] = o.PaymentDetails
	}
	return &StatusResult{
		Event:          event,
		MerchantTxnID:  o.MerchantOrderID,
		GatewayOrderID: o.OrderID,
		Status:         NormaliseState(o.State, o.ErrorCode),
		AmountCents:    o.Amount,
		SettlementMeta: meta,
		Raw:            raw,
	}
}
