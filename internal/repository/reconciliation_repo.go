package repository

import (
	"context"
	"time"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type ReconciliationRepository struct {
	db *gorm.DB
}

func (r *ReconciliationRepository) Create(ctx context.Context, rec *domain.Reconciliation) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *ReconciliationRepository) List(ctx context.Context, unresolvedOnly bool, limit int) ([]domain.Reconciliation, error) {
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if unresolvedOnly {
		q = q.Where("resolved_at IS NULL")
	}
	var out []domain.Reconciliation
	err := q.Find(&out).Error
	return out, err
}

func (r *ReconciliationRepository) ListByPayment(ctx context.Context, paymentID int64) ([]domain.Reconciliation, error) {
	var out []domain.Reconciliation
	err := r.db.WithContext(ctx).Where("payment_ref = ?", paymentID).Order("id").Find(&out).Error
	return out, err
}

func (r *ReconciliationRepository) Resolve(ctx context.Context, id, adminRef int64, at time.Time) (*domain.Reconciliation, error) {
	res := r.db.WithContext(ctx).Model(&domain.Reconciliation{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]interface{}{"resolved_at": at, "resolved_by": adminRef})
	if res.Error != nil {
		return nil, res.Error
	}
	var rec domain.Reconciliation
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
