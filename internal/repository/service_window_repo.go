package repository

import (
	"context"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type ServiceWindowRepository struct {
	db *gorm.DB
}

func (r *ServiceWindowRepository) GetByAdmin(ctx context.Context, adminRef int64) (*domain.ServiceWindow, error) {
	var w domain.ServiceWindow
	if err := r.db.WithContext(ctx).Where("admin_ref = ?", adminRef).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetActive returns the most recently updated active window, or nil.
func (r *ServiceWindowRepository) GetActive(ctx context.Context) (*domain.ServiceWindow, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true).Order("updated_at DESC").Order("id DESC")
	return firstOrNil[domain.ServiceWindow](q)
}

// Save inserts the window or updates it in place when it already has an id.
func (r *ServiceWindowRepository) Save(ctx context.Context, w *domain.ServiceWindow) error {
	if w.ID == 0 {
		return r.db.WithContext(ctx).Create(w).Error
	}
	return r.db.WithContext(ctx).Model(&domain.ServiceWindow{}).Where("id = ?", w.ID).Updates(map[string]interface{}{
		"start_of_day": w.StartOfDay,
		"end_of_day":   w.EndOfDay,
		"timezone":     w.Timezone,
		"alert_emails": w.AlertEmails,
		"active":       w.Active,
		"updated_at":   w.UpdatedAt,
	}).Error
}
