package repository

import (
	"context"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type AttachmentRepository struct {
	db *gorm.DB
}

func (r *AttachmentRepository) Create(ctx context.Context, a *domain.Attachment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AttachmentRepository) ListByAppointment(ctx context.Context, appointmentRef int64) ([]domain.Attachment, error) {
	var out []domain.Attachment
	err := r.db.WithContext(ctx).Where("appointment_ref = ?", appointmentRef).Order("created_at").Find(&out).Error
	return out, err
}
