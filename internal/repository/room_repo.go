package repository

import (
	"context"
	"time"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type RoomRepository struct {
	db *gorm.DB
}

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *RoomRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// Revoke flags the room; revoking twice is a no-op.
func (r *RoomRepository) Revoke(ctx context.Context, roomID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Room{}).
		Where("room_id = ? AND revoked = ?", roomID, false).
		Updates(map[string]interface{}{"revoked": true, "revoked_at": at}).Error
}
