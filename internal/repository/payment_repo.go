package repository

import (
	"context"
	"time"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Payment, error) {
	var p domain.Payment
	if err := forUpdate(r.db.WithContext(ctx)).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByMerchantTxnID reads without a lock; callers lock the appointment first
// and then the payment by id.
func (r *PaymentRepository) GetByMerchantTxnID(ctx context.Context, merchantTxnID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).Where("merchant_txn_id = ?", merchantTxnID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindActive returns the non-terminal payment of an appointment, or nil.
func (r *PaymentRepository) FindActive(ctx context.Context, appointmentRef int64) (*domain.Payment, error) {
	q := forUpdate(r.db.WithContext(ctx)).
		Where("appointment_ref = ? AND status IN ?", appointmentRef,
			[]domain.PaymentStatus{domain.PaymentCreated, domain.PaymentInitiated, domain.PaymentProcessing})
	return firstOrNil[domain.Payment](q)
}

// FindSuccessful returns the captured payment of an appointment, or nil.
func (r *PaymentRepository) FindSuccessful(ctx context.Context, appointmentRef int64) (*domain.Payment, error) {
	q := r.db.WithContext(ctx).
		Where("appointment_ref = ? AND status = ?", appointmentRef, domain.PaymentSuccess).
		Order("id DESC")
	return firstOrNil[domain.Payment](q)
}

// ListStale returns payments in statuses whose last update is before cutoff.
func (r *PaymentRepository) ListStale(ctx context.Context, statuses []domain.PaymentStatus, cutoff time.Time, limit int) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Update writes columns only while the payment is still in status from.
func (r *PaymentRepository) Update(ctx context.Context, id int64, from domain.PaymentStatus, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Payment{}).
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

// Touch records a status check without changing state.
func (r *PaymentRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Payment{}).Where("id = ?", id).
		Update("last_checked_at", at).Error
}

func (r *PaymentRepository) RecordTransition(ctx context.Context, t *domain.PaymentTransition) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *PaymentRepository) Transitions(ctx context.Context, paymentID int64) ([]domain.PaymentTransition, error) {
	var out []domain.PaymentTransition
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id").Find(&out).Error
	return out, err
}

// Reached reports whether the payment ever entered status.
func (r *PaymentRepository) Reached(ctx context.Context, paymentID int64, status domain.PaymentStatus) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.PaymentTransition{}).
		Where("payment_id = ? AND to_status = ?", paymentID, status).
		Count(&n).Error
	return n > 0, err
}
