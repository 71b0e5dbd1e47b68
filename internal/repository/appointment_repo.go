package repository

import (
	"context"
	"time"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func (r *AppointmentRepository) Create(ctx context.Context, a *domain.Appointment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AppointmentRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := forUpdate(r.db.WithContext(ctx)).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindSlotHolder returns the appointment currently holding (doctor, at), or nil.
func (r *AppointmentRepository) FindSlotHolder(ctx context.Context, doctorRef int64, at time.Time) (*domain.Appointment, error) {
	q := forUpdate(r.db.WithContext(ctx)).
		Where("doctor_ref = ? AND scheduled_at = ? AND status IN ?", doctorRef, at,
			[]domain.AppointmentStatus{domain.AppointmentPendingPayment, domain.AppointmentConfirmed})
	return firstOrNil[domain.Appointment](q)
}

// Transition moves an appointment from one status to another, applying extra
// column updates. It fails with ErrStaleState when the row is no longer in from.
func (r *AppointmentRepository) Transition(ctx context.Context, id int64, from, to domain.AppointmentStatus, at time.Time, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&domain.Appointment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// ListPendingWithoutPayment returns PENDING_PAYMENT appointments created before
// cutoff that never had a payment attached.
func (r *AppointmentRepository) ListPendingWithoutPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.AppointmentPendingPayment, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM payments p WHERE p.appointment_ref = appointments.id)").
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListConfirmedEndedBy returns CONFIRMED appointments whose scheduled end is
// at or before t, oldest first.
func (r *AppointmentRepository) ListConfirmedEndedBy(ctx context.Context, t time.Time, limit int) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_at <= ?", domain.AppointmentConfirmed, t).
		Order("end_at").
		Limit(limit).
		Find(&out).Error
	return out, err
}
