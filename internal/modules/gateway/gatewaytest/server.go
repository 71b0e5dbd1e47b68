// Package gatewaytest provides an in-process fake of the payment gateway.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dentalclinic/internal/modules/gateway"
)

type Order struct {
	MerchantOrderID string
	OrderID         string
	Amount          int64
	State           string
	ErrorCode       string
}

type Server struct {
	*httptest.Server
	Secret string

	TokenTTL   time.Duration
	TokenDelay time.Duration
	// PayFailures makes the next n pay calls answer 503.
	PayFailures atomic.Int32
	// StatusFailures makes the next n status calls answer 502.
	StatusFailures atomic.Int32
	// RejectPay makes pay calls answer 400.
	RejectPay atomic.Bool
	// GarblePay makes pay calls answer 200 with the given raw body.
	GarblePay atomic.Value

	TokenCalls  atomic.Int32
	PayCalls    atomic.Int32
	StatusCalls atomic.Int32
	CancelCalls atomic.Int32

	mu     sync.Mutex
	orders map[string]*Order
	token  string
	seq    int
}

func New(secret string) *Server {
	s := &Server{Secret: secret, TokenTTL: time.Hour, orders: map[string]*Order{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth/token", s.handleToken)
	mux.HandleFunc("POST /checkout/v2/pay", s.authorised(s.handlePay))
	mux.HandleFunc("GET /checkout/v2/order/{id}/status", s.authorised(s.handleStatus))
	mux.HandleFunc("POST /checkout/v2/order/{id}/cancel", s.authorised(s.handleCancel))
	s.Server = httptest.NewServer(mux)
	return s
}

// Config returns a client config pointed at the fake with fast retries.
func (s *Server) Config() gateway.Config {
	return gateway.Config{
		BaseURL:       s.URL,
		MerchantID:    "MERCHANT",
		ClientID:      "client",
		ClientSecret:  s.Secret,
		ClientVersion: "1",
		Timeout:       2 * time.Second,
		TokenSkew:     time.Second,
		Retry:         gateway.RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 4},
	}
}

func (s *Server) Order(merchantOrderID string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[merchantOrderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// SetState changes what the status endpoint reports for an order.
func (s *Server) SetState(merchantOrderID, state, errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[merchantOrderID]; ok {
		o.State = state
		o.ErrorCode = errorCode
	}
}

// Callback builds a signed callback for the order in the given state.
func (s *Server) Callback(merchantOrderID, state string, amount int64) ([]byte, string) {
	s.mu.Lock()
	orderID := ""
	if o, ok := s.orders[merchantOrderID]; ok {
		orderID = o.OrderID
	}
	s.mu.Unlock()

	body, _ := json.Marshal(map[string]interface{}{
		"event": "checkout.order.completed",
		"payload": map[string]interface{}{
			"merchantOrderId": merchantOrderID,
			"orderId":         orderID,
			"state":           state,
			"amount":          amount,
		},
	})
	return body, gateway.Sign(s.Secret, body)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.TokenCalls.Add(1)
	if s.TokenDelay > 0 {
		time.Sleep(s.TokenDelay)
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") != s.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "INVALID_CLIENT", "message": "bad credentials"})
		return
	}
	s.mu.Lock()
	s.seq++
	s.token = fmt.Sprintf("tok-%d", s.seq)
	tok := s.token
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": tok,
		"token_type":   "O-Bearer",
		"expires_at":   time.Now().Add(s.TokenTTL).Unix(),
	})
}

func (s *Server) authorised(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		tok := s.token
		s.mu.Unlock()
		if tok == "" || r.Header.Get("Authorization") != "O-Bearer "+tok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	s.PayCalls.Add(1)
	if s.PayFailures.Load() > 0 {
		s.PayFailures.Add(-1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "UNAVAILABLE"})
		return
	}
	if s.RejectPay.Load() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST", "message": "rejected"})
		return
	}
	if body, _ := s.GarblePay.Load().(string); body != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
		return
	}
	var req struct {
		MerchantOrderID string `json:"merchantOrderId"`
		Amount          int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MerchantOrderID == "" || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST"})
		return
	}

	s.mu.Lock()
	o, ok := s.orders[req.MerchantOrderID]
	if !ok {
		o = &Order{
			MerchantOrderID: req.MerchantOrderID,
			OrderID:         "OMO" + strings.TrimPrefix(req.MerchantOrderID, "T"),
			Amount:          req.Amount,
			State:           "PENDING",
		}
		s.orders[req.MerchantOrderID] = o
	}
	resp := map[string]interface{}{
		"orderId":     o.OrderID,
		"state":       o.State,
		"expireAt":    time.Now().Add(20 * time.Minute).UnixMilli(),
		"redirectUrl": s.URL + "/checkout/" + o.OrderID,
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.StatusCalls.Add(1)
	if s.StatusFailures.Load() > 0 {
		s.StatusFailures.Add(-1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"code": "UPSTREAM"})
		return
	}
	s.mu.Lock()
	o, ok := s.orders[r.PathValue("id")]
	var resp map[string]interface{}
	if ok {
		resp = map[string]interface{}{
			"merchantOrderId": o.MerchantOrderID,
			"orderId":         o.OrderID,
			"state":           o.State,
			"amount":          o.Amount,
			"errorCode":       o.ErrorCode,
		}
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "ORDER_NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.CancelCalls.Add(1)
	s.mu.Lock()
	if o, ok := s.orders[r.PathValue("id")]; ok && o.State == "PENDING" {
		o.State = "FAILED"
		o.ErrorCode = "USER_CANCELLED"
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
