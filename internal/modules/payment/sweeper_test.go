package payment

import (
	"context"
	"testing"
	"time"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) sweep(t *testing.T) SweepReport {
	t.Helper()
	rep, err := NewSweeper(e.svc).RunOnce(context.Background())
	require.NoError(t, err)
	return rep
}

func TestSweep_AbandonedPaymentExpires(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)

	e.clk.Advance(5 * time.Minute)
	assert.Equal(t, SweepReport{}, e.sweep(t), "nothing is due inside the hold")

	e.clk.Advance(6 * time.Minute)
	rep := e.sweep(t)
	assert.Equal(t, 1, rep.PaymentsExpired)

	assert.Equal(t, domain.PaymentExpired, e.payment(t, res.PaymentID).Status)
	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.AppointmentExpired, got.Status)
	assert.Equal(t, domain.ReasonPaymentExpired, got.StatusReason)
	assert.Equal(t, []string{res.MerchantTxnID}, e.gw.cancelled)

	holder, err := e.store.Appointments.FindSlotHolder(context.Background(), 7, slot)
	require.NoError(t, err)
	assert.Nil(t, holder)

	assert.Equal(t, SweepReport{}, e.sweep(t), "a second pass is a no-op")
}

func TestSweep_SettlesFromGatewayBeforeExpiring(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.gw.set(res.MerchantTxnID, gateway.StatusSuccess)

	e.clk.Advance(11 * time.Minute)
	rep := e.sweep(t)
	assert.Equal(t, 1, rep.PaymentsSettled)
	assert.Zero(t, rep.PaymentsExpired)

	p := e.payment(t, res.PaymentID)
	assert.Equal(t, domain.PaymentSuccess, p.Status)
	assert.Nil(t, p.ChecksumVerifiedAt)

	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.AppointmentConfirmed, got.Status)
	assert.NotNil(t, got.RoomRef)
	assert.Empty(t, e.gw.cancelled)
}

func TestSweep_ProcessingPaymentHeldUntilCap(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "PENDING", 50000)

	e.clk.Advance(15 * time.Minute)
	rep := e.sweep(t)
	assert.Zero(t, rep.PaymentsExpired)
	assert.Equal(t, domain.PaymentProcessing, e.payment(t, res.PaymentID).Status)
	assert.Positive(t, e.gw.polls)

	e.clk.Advance(16 * time.Minute)
	rep = e.sweep(t)
	assert.Equal(t, 1, rep.PaymentsExpired)
	assert.Equal(t, domain.PaymentExpired, e.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.AppointmentExpired, e.appointment(t, appt.ID).Status)
}

func TestSweep_HoldWithoutPaymentExpires(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)

	e.clk.Advance(11 * time.Minute)
	rep := e.sweep(t)
	assert.Equal(t, 1, rep.HoldsExpired)

	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.AppointmentExpired, got.Status)
	assert.Equal(t, domain.ReasonHoldExpired, got.StatusReason)

	var expired int
	for _, ev := range e.notes.Events() {
		if ev.Type == notifier.EventAppointmentExpired && ev.AppointmentRef == appt.ID {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

func TestSweep_CompletesFinishedConsultation(t *testing.T) {
	e := newEnv(t)
	appt := e.reserve(t, nil)
	res := e.initiate(t, appt)
	e.callback(t, res.MerchantTxnID, "COMPLETED", 50000)
	roomID := *e.appointment(t, appt.ID).RoomRef

	e.clk.Set(slot.Add(20 * time.Minute))
	assert.Zero(t, e.sweep(t).AppointmentsFinished, "still in session")

	e.clk.Set(slot.Add(31 * time.Minute))
	assert.Equal(t, 1, e.sweep(t).AppointmentsFinished)

	got := e.appointment(t, appt.ID)
	assert.Equal(t, domain.AppointmentCompleted, got.Status)
	assert.Nil(t, got.RoomRef)

	r, err := e.store.Rooms.GetByRoomID(context.Background(), roomID)
	require.NoError(t, err)
	assert.True(t, r.Revoked)
	assert.NotNil(t, r.RevokedAt)
}

func TestSweep_LongSessionDoesNotHoldBackFinishedOnes(t *testing.T) {
	e := newEnv(t)
	e.svc.cfg.SweepBatch = 1
	doc := int64(7)
	confirmed := func(at time.Time, minutes int) *domain.Appointment {
		a := &domain.Appointment{
			PatientRef: 42, DoctorRef: &doc, Kind: domain.AppointmentVirtual,
			ScheduledAt: at, DurationMinutes: minutes, Status: domain.AppointmentConfirmed,
			PriceCents: 50000, Currency: "INR", CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, e.store.Appointments.Create(context.Background(), a))
		return a
	}
	long := confirmed(slot.Add(-time.Hour), 180)
	short := confirmed(slot, 30)
	assert.Equal(t, slot.Add(30*time.Minute), short.EndAt)

	e.clk.Set(slot.Add(31 * time.Minute))
	assert.Equal(t, 1, e.sweep(t).AppointmentsFinished)

	assert.Equal(t, domain.AppointmentCompleted, e.appointment(t, short.ID).Status)
	assert.Equal(t, domain.AppointmentConfirmed, e.appointment(t, long.ID).Status)
}
