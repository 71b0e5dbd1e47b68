package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"dentalclinic/internal/database/dbtest"
	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/notifier"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/modules/room"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/pkg/idgen"
	"dentalclinic/internal/pkg/jwt"
	"dentalclinic/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackSecret = "cb-secret"

var (
	now     = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	slot    = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	patient = policy.Actor{UserID: 42, Role: jwt.RoleUser}
	other   = policy.Actor{UserID: 43, Role: jwt.RoleUser}
	admin   = policy.Actor{UserID: 1, Role: jwt.RoleAdmin}
)

type fakeGateway struct {
	mu         sync.Mutex
	sessionErr error
	statusErr  error
	statuses   map[string]gateway.Status
	sessions   int
	polls      int
	cancelled  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]gateway.Status{}}
}

func (f *fakeGateway) CreateSession(_ context.Context, in gateway.SessionRequest) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &gateway.Session{
		GatewayOrderID: "OMO-" + in.MerchantTxnID,
		RedirectTarget: "https://pay.test/checkout/" + in.MerchantTxnID,
		Raw:            json.RawMessage(`{"state":"PENDING"}`),
	}, nil
}

func (f *fakeGateway) FetchStatus(_ context.Context, txn string) (*gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st, ok := f.statuses[txn]
	if !ok {
		st = gateway.StatusPending
	}
	return &gateway.StatusResult{MerchantTxnID: txn, GatewayOrderID: "OMO-" + txn, Status: st}, nil
}

func (f *fakeGateway) Cancel(_ context.Context, txn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, txn)
	return nil
}

func (f *fakeGateway) VerifySignature(raw []byte, header string) bool {
	return header == gateway.Sign(callbackSecret, raw)
}

func (f *fakeGateway) DecodeCallback(raw []byte) (*gateway.StatusResult, error) {
	return gateway.DecodeCallback(raw)
}

func (f *fakeGateway) set(txn string, st gateway.Status) {
	f.mu.Lock()
	f.statuses[txn] = st
	f.mu.Unlock()
}

type env struct {
	svc   *Service
	store *repository.Store
	gw    *fakeGateway
	clk   *clock.Mock
	notes *notifier.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repository.NewStore(dbtest.Open(t))
	clk := clock.NewMock(now)
	ids := &idgen.Sequence{}
	broker := room.NewBroker(room.Config{
		PreJoin:     10 * time.Minute,
		Grace:       30 * time.Minute,
		MaxDuration: 90 * time.Minute,
		Secret:      "room-secret",
	}, store, ids, clk, nil, zerolog.Nop())
	gw := newFakeGateway()
	rec := &notifier.Recorder{}
	svc := NewService(store, gw, broker, rec, ids, clk, Config{
		CallbackURL:  "https://clinic.test/api/v1/payment/gateway/callback",
		RedirectURL:  "https://clinic.test/payments/return",
		HoldTTL:      10 * time.Minute,
		PollInterval: 30 * time.Second,
	}, nil, zerolog.Nop())
	return &env{svc: svc, store: store, gw: gw, clk: clk, notes: rec}
}

func (e *env) reserve(t *testing.T, code *domain.RedeemCode) *domain.Appointment {
	t.Helper()
	doc := int64(7)
	a := &domain.Appointment{
		PatientRef: 42, DoctorRef: &doc, Kind: domain.AppointmentVirtual,
		ScheduledAt: slot, DurationMinutes: 30, Status: domain.AppointmentPendingPayment,
		PriceCents: 50000, Currency: "INR", CreatedAt: e.clk.Now(), UpdatedAt: e.clk.Now(),
	}
	if code != nil {
		a.RedeemCodeRef = &code.ID
	}
	require.NoError(t, e.store.Appointments.Create(context.Background(), a))
	return a
}

func (e *env) code(t *testing.T, kind domain.DiscountKind, value, maxDiscount int64) *domain.RedeemCode {
	t.Helper()
	c := &domain.RedeemCode{
		Code: "WELCOME10", DiscountKind: kind, Value: value, MaxDiscountCents: maxDiscount,
		UsageLimit: 1, PerUserLimit: 1, Active: true, Applicability: domain.ApplicableAll,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(30 * 24 * time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.RedeemCodes.Create(context.Background(), c))
	return c
}

func (e *env) initiate(t *testing.T, appt *domain.Appointment) *InitiateResponse {
	t.Helper()
	res, err := e.svc.Initiate(context.Background(), patient, InitiateRequest{AppointmentID: appt.ID, Method: "UPI_INTENT"})
	require.NoError(t, err)
	return res
}

func (e *env) payment(t *testing.T, id int64) *domain.Payment {
	t.Helper()
	p, err := e.store.Payments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *env) appointment(t *testing.T, id int64) *domain.Appointment {
	t.Helper()
	a, err := e.store.Appointments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *env) path(t *testing.T, paymentID int64) []domain.PaymentStatus {
	t.Helper()
	hops, err := e.store.Payments.Transitions(context.Background(), paymentID)
	require.NoError(t, err)
	var out []domain.PaymentStatus
	for _, h := range hops {
		out = append(out, h.ToStatus)
	}
	return out
}

func signedCallback(txn, state string, amount int64) ([]byte, string) {
	body := []byte(fmt.Sprintf(
		`{"event":"checkout.order.completed","payload":{"merchantOrderId":%q,"orderId":%q,"state":%q,"amount":%d}}`,
		txn, "OMO-"+txn, state, amount))
	return body, gateway.Sign(callbackSecret, body)
}

func (e *env) callback(t *testing.T, txn, state string, amount int64) string {
	t.Helper()
	body, sig := signedCallback(txn, state, amount)
	res, err := e.svc.HandleCallback(context.Background(), body, sig)
	require.NoError(t, err)
	return res.Outcome
}

func TestInitiate_OpensGatewaySession(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)

	res := e.initiate(t, appt)
	assert.Equal(t, "T-0001", res.MerchantTxnID)
	assert.Equal(t, domain.PaymentInitiated, res.PaymentStatus)
	assert.Equal(t, "https://pay.test/checkout/T-0001", res.RedirectTarget)
	assert.Equal(t, int64(50000), res.AmountCents)

	p := e.payment(t, res.PaymentID)
	require.NotNil(t, p.GatewayOrderID)
	assert.Equal(t, "OMO-T-0001", *p.GatewayOrderID)
	assert.Equal(t, "UPI_INTENT", p.Method)
	assert.NotNil(t, p.InitiatedAt)
	assert.Equal(t, []domain.PaymentStatus{domain.PaymentInitiated}, e.path(t, p.ID))
}

func TestInitiate_ResumesInFlightPayment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)

	first := e.initiate(t, appt)
	second := e.initiate(t, appt)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.RedirectTarget, second.RedirectTarget)
	assert.Equal(t, 1, e.gw.sessions)
}

func TestInitiate_OnlyOwnerMayPay(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)

	_, err := e.svc.Initiate(context.Background(), other, InitiateRequest{AppointmentID: appt.ID})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = e.svc.Initiate(context.Background(), patient, InitiateRequest{AppointmentID: 999})
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
}

func TestInitiate_GatewayRejectReleasesSlot(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	e.gw.sessionErr = &gateway.Error{Category: gateway.CategoryValidation, Op: "create_session", StatusCode: 400, Message: "amount too large"}

	_, err := e.svc.Initiate(context.Background(), patient, InitiateRequest{AppointmentID: appt.ID})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeGatewayRejected, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindUpstreamFatal, apperr.As(err).Kind)

	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.AppointmentExpired, got.Status)
	assert.Equal(t, domain.ReasonPaymentFailed, got.StatusReason)

	holder, err := e.store.Appointments.FindSlotHolder(context.Background(), 7, slot)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestInitiate_TransientFailureKeepsPaymentForRetry(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	e.gw.sessionErr = &gateway.Error{Category: gateway.CategoryUpstreamUnavailable, Op: "create_session", StatusCode: 503}

	_, err := e.svc.Initiate(context.Background(), patient, InitiateRequest{AppointmentID: appt.ID})
	assert.Equal(t, apperr.KindUpstreamTransient, apperr.As(err).Kind)
	assert.Equal(t, domain.AppointmentPendingPayment, e.appointment(t, appt.ID).Status)

	e.gw.sessionErr = nil
	res := e.initiate(t, appt)
	assert.Equal(t, "T-0001", res.MerchantTxnID, "the retry reuses the same merchant transaction")
	assert.Equal(t, domain.PaymentInitiated, res.PaymentStatus)
}

func TestInitiate_GatewayAuthFailure(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	e.gw.sessionErr = &gateway.Error{Category: gateway.CategoryAuth, Op: "create_session", StatusCode: 401}

	_, err := e.svc.Initiate(context.Background(), patient, InitiateRequest{AppointmentID: appt.ID})
	assert.Equal(t, apperr.CodeGatewayAuth, apperr.CodeOf(err))
}

func TestInitiate_ZeroAmountSkipsGateway(t *testing.T) {
	e := newEnv(t)
	code := e.code(t, domain.DiscountFlat, 50000, 0)
	appt := e.reserve(t, code)

	res := e.initiate(t, appt)
	assert.Equal(t, domain.PaymentSuccess, res.PaymentStatus)
	assert.Equal(t, domain.AppointmentConfirmed, res.AppointmentStatus)
	assert.Empty(t, res.RedirectTarget)
	assert.Zero(t, e.gw.sessions)

	got := e.appointment(t, appt.ID)
	require.NotNil(t, got.RoomRef)
	assert.Equal(t, "room-0001", *got.RoomRef)

	c, err := e.store.RedeemCodes.GetByID(context.Background(), code.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsageCount)

	hops, err := e.store.Payments.Transitions(context.Background(), res.PaymentID)
	require.NoError(t, err)
	for _, h := range hops {
		assert.Equal(t, domain.SourceZeroCost, h.Source)
	}
}

func TestInitiate_NotAwaitingPayment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "COMPLETED", 50000)

	_, err := e.svc.Initiate(context.Background(), patient, InitiateRequest{AppointmentID: appt.ID})
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))
}

func TestStatus_PollsQuietPayment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)

	st, err := e.svc.Status(context.Background(), patient, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, st.PaymentStatus)
	assert.Zero(t, e.gw.polls, "fresh payments are answered from the store")

	e.gw.set(res.MerchantTxnID, gateway.StatusSuccess)
	e.clk.Advance(31 * time.Second)
	st, err = e.svc.Status(context.Background(), patient, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.gw.polls)
	assert.Equal(t, domain.PaymentSuccess, st.PaymentStatus)
	assert.Equal(t, domain.AppointmentConfirmed, st.AppointmentStatus)
	assert.Equal(t, "room-0001", st.RoomID)
	assert.Equal(t, []domain.PaymentStatus{domain.PaymentInitiated, domain.PaymentProcessing, domain.PaymentSuccess}, e.path(t, res.PaymentID))
}

func TestStatus_PollFailureAnswersFromStore(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.gw.statusErr = &gateway.Error{Category: gateway.CategoryUpstreamUnavailable, Op: "fetch_status"}
	e.clk.Advance(time.Minute)

	st, err := e.svc.Status(context.Background(), patient, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, st.PaymentStatus)
	assert.NotNil(t, e.payment(t, res.PaymentID).LastCheckedAt)
}

func TestStatus_Authorisation(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)

	_, err := e.svc.Status(context.Background(), other, res.PaymentID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = e.svc.Status(context.Background(), admin, res.PaymentID)
	assert.NoError(t, err)
}

func TestCancel_PendingWithPayment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)

	out, err := e.svc.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentExpired, out.AppointmentStatus)
	assert.Equal(t, domain.PaymentCancelled, out.PaymentStatus)
	assert.Equal(t, []string{res.MerchantTxnID}, e.gw.cancelled)

	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.ReasonUserCancelled, got.StatusReason)
}

func TestCancel_PendingWithoutPayment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)

	out, err := e.svc.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentExpired, out.AppointmentStatus)
	assert.Empty(t, e.gw.cancelled)
}

func TestCancel_ConfirmedRevokesRoom(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "COMPLETED", 50000)

	out, err := e.svc.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCancelled, out.AppointmentStatus)

	got := e.appointment(t, appt.ID)
	assert.Nil(t, got.RoomRef)
	r, err := e.store.Rooms.GetByRoomID(context.Background(), "room-0001")
	require.NoError(t, err)
	assert.True(t, r.Revoked)
}

func TestCancel_RejectedOnceStarted(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "COMPLETED", 50000)

	e.clk.Set(slot)
	_, err := e.svc.Cancel(context.Background(), patient, appt.ID)
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))

	_, err = e.svc.Cancel(context.Background(), other, appt.ID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestRefund_CancelsConfirmedAppointment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "COMPLETED", 50000)

	_, err := e.svc.Refund(context.Background(), patient, res.PaymentID, RefundRequest{})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	out, err := e.svc.Refund(context.Background(), admin, res.PaymentID, RefundRequest{Reason: "doctor unavailable"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, out.PaymentStatus)
	assert.Equal(t, domain.AppointmentCancelled, out.AppointmentStatus)

	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.ReasonRefunded, got.StatusReason)
	r, err := e.store.Rooms.GetByRoomID(context.Background(), "room-0001")
	require.NoError(t, err)
	assert.True(t, r.Revoked)

	again, err := e.svc.Refund(context.Background(), admin, res.PaymentID, RefundRequest{})
	require.NoError(t, err, "refund is idempotent")
	assert.Equal(t, domain.PaymentRefunded, again.PaymentStatus)
}

func TestRefund_ReplayedCaptureIsDuplicate(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "COMPLETED", 50000)

	_, err := e.svc.Refund(context.Background(), admin, res.PaymentID, RefundRequest{Reason: "doctor unavailable"})
	require.NoError(t, err)
	alerts := len(e.notes.Events())

	assert.Equal(t, string(outcomeDuplicate), e.callback(t, res.MerchantTxnID, "COMPLETED", 50000))
	assert.Equal(t, domain.PaymentRefunded, e.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.AppointmentCancelled, e.appointment(t, appt.ID).Status)

	recs, err := e.store.Reconciliations.ListByPayment(context.Background(), res.PaymentID)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Len(t, e.notes.Events(), alerts)
}

func TestRefund_RequiresCapturedPayment(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)

	_, err := e.svc.Refund(context.Background(), admin, res.PaymentID, RefundRequest{})
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))
}

func TestReconciliations_ListAndResolve(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	assert.Equal(t, string(outcomeAmountMismatch), e.callback(t, res.MerchantTxnID, "COMPLETED", 1))

	_, err := e.svc.ListReconciliations(context.Background(), patient, false, 10)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	open, err := e.svc.ListReconciliations(context.Background(), admin, false, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.ReconAmountMismatch, open[0].Kind)

	rec, err := e.svc.ResolveReconciliation(context.Background(), admin, open[0].ID)
	require.NoError(t, err)
	require.NotNil(t, rec.ResolvedBy)
	assert.Equal(t, admin.UserID, *rec.ResolvedBy)

	open, err = e.svc.ListReconciliations(context.Background(), admin, false, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = e.svc.ResolveReconciliation(context.Background(), admin, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
}
