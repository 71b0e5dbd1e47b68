package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"dentalclinic/internal/database/dbtest"
	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/pkg/jwt"
	"dentalclinic/internal/pkg/redisx"
	"dentalclinic/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now     = time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)
	slot    = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	patient = policy.Actor{UserID: 42, Role: jwt.RoleUser}
)

func doctorRef(id int64) *int64 { return &id }

func newManager(t *testing.T, locker SlotLocker) (*Manager, *repository.Store) {
	t.Helper()
	store := repository.NewStore(dbtest.Open(t))
	w := &domain.ServiceWindow{AdminRef: 1, StartOfDay: "09:00", EndOfDay: "18:00", Timezone: "UTC", Active: true, CreatedAt: now, UpdatedAt: now}
	w.SetEmails(nil)
	require.NoError(t, store.ServiceWindows.Save(context.Background(), w))

	cfg := Config{
		PriceCents:      50000,
		Currency:        "INR",
		DurationMinutes: 30,
		DoctorPool:      []int64{7, 8},
		Rules:           policy.DefaultRules(),
	}
	return NewManager(store, cfg, clock.NewMock(now), locker, nil, zerolog.Nop()), store
}

func TestReserve_HappyPath(t *testing.T) {
	m, store := newManager(t, nil)
	ctx := context.Background()

	res, err := m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.PriceCents)
	assert.Equal(t, int64(50000), res.FinalCents)
	assert.Equal(t, int64(7), res.DoctorRef)

	appt, err := store.Appointments.GetByID(ctx, res.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentPendingPayment, appt.Status)
	assert.Equal(t, domain.AppointmentVirtual, appt.Kind)
	assert.Equal(t, int64(42), appt.PatientRef)
	assert.Nil(t, appt.RoomRef)
	assert.Equal(t, now, appt.CreatedAt.UTC())
}

func TestReserve_QuotesRedeemCode(t *testing.T) {
	m, store := newManager(t, nil)
	ctx := context.Background()
	require.NoError(t, store.RedeemCodes.Create(ctx, &domain.RedeemCode{
		Code: "WELCOME10", DiscountKind: domain.DiscountPercent, Value: 10, MaxDiscountCents: 3000,
		Active: true, Applicability: domain.ApplicableAll,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(30 * 24 * time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	res, err := m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot, RedeemCode: "welcome10"})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.DiscountCents)
	assert.Equal(t, int64(47000), res.FinalCents)

	appt, err := store.Appointments.GetByID(ctx, res.AppointmentID)
	require.NoError(t, err)
	require.NotNil(t, appt.RedeemCodeRef)

	_, err = m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(8), ScheduledAt: slot, RedeemCode: "NOPE"})
	assert.Equal(t, apperr.CodeRedeemNotFound, apperr.CodeOf(err))
}

func TestReserve_Validation(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()

	_, err := m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot.Add(30 * time.Second)})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)})
	assert.Equal(t, apperr.CodeOutOfWindow, apperr.CodeOf(err))

	_, err = m.Reserve(ctx, policy.Actor{UserID: 7, Role: jwt.RoleDoctor}, ReserveRequest{ScheduledAt: slot})
	assert.Equal(t, apperr.KindForbidden, apperr.As(err).Kind)

	_, err = m.Reserve(ctx, patient, ReserveRequest{PatientRef: 99, ScheduledAt: slot})
	assert.Equal(t, apperr.KindForbidden, apperr.As(err).Kind)
}

func TestReserve_SlotTakenAndPoolFallback(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()

	first, err := m.Reserve(ctx, patient, ReserveRequest{ScheduledAt: slot})
	require.NoError(t, err)
	assert.Equal(t, int64(7), first.DoctorRef)

	second, err := m.Reserve(ctx, policy.Actor{UserID: 43, Role: jwt.RoleUser}, ReserveRequest{ScheduledAt: slot})
	require.NoError(t, err)
	assert.Equal(t, int64(8), second.DoctorRef)

	_, err = m.Reserve(ctx, policy.Actor{UserID: 44, Role: jwt.RoleUser}, ReserveRequest{ScheduledAt: slot})
	assert.Equal(t, apperr.CodeSlotTaken, apperr.CodeOf(err))

	_, err = m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
	assert.Equal(t, apperr.CodeSlotTaken, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindConflict, apperr.As(err).Kind)
}

func TestReserve_ConcurrentCallersGetOneSlot(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := m.Reserve(ctx, policy.Actor{UserID: user, Role: jwt.RoleUser}, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apperr.CodeOf(err) == apperr.CodeSlotTaken {
				taken++
			}
		}(int64(100 + i))
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, taken)
}

func TestReserve_SlotReleasedAfterExpiry(t *testing.T) {
	m, store := newManager(t, nil)
	ctx := context.Background()

	res, err := m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
	require.NoError(t, err)
	require.NoError(t, store.Appointments.Transition(ctx, res.AppointmentID, domain.AppointmentPendingPayment, domain.AppointmentExpired, now, nil))

	_, err = m.Reserve(ctx, policy.Actor{UserID: 43, Role: jwt.RoleUser}, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
	assert.NoError(t, err)
}

type stubLocker struct {
	held  bool
	calls int
}

func (l *stubLocker) WithSlotLock(ctx context.Context, slot string, fn func(ctx context.Context) error) error {
	l.calls++
	if l.held {
		return redisx.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestReserve_SlotLock(t *testing.T) {
	locker := &stubLocker{}
	m, _ := newManager(t, locker)
	ctx := context.Background()

	_, err := m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
	require.NoError(t, err)
	assert.Equal(t, 1, locker.calls)

	locker.held = true
	_, err = m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(8), ScheduledAt: slot})
	assert.Equal(t, apperr.CodeSlotTaken, apperr.CodeOf(err))
}

func TestGet_Authorisation(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	res, err := m.Reserve(ctx, patient, ReserveRequest{DoctorRef: doctorRef(7), ScheduledAt: slot})
	require.NoError(t, err)

	_, err = m.Get(ctx, patient, res.AppointmentID)
	assert.NoError(t, err)
	_, err = m.Get(ctx, policy.Actor{UserID: 7, Role: jwt.RoleDoctor}, res.AppointmentID)
	assert.NoError(t, err)
	_, err = m.Get(ctx, policy.Actor{UserID: 8, Role: jwt.RoleDoctor}, res.AppointmentID)
	assert.Equal(t, apperr.KindForbidden, apperr.As(err).Kind)
	_, err = m.Get(ctx, patient, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
}
