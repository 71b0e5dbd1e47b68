package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrStaleState means a conditional update matched no row because the
	// status moved underneath the caller.
	ErrStaleState = errors.New("row state changed concurrently")
)

// Store groups the repositories over one connection or one transaction.
type Store struct {
	db *gorm.DB

	Appointments    *AppointmentRepository
	Payments        *PaymentRepository
	RedeemCodes     *RedeemCodeRepository
	ServiceWindows  *ServiceWindowRepository
	Rooms           *RoomRepository
	Reconciliations *ReconciliationRepository
	Attachments     *AttachmentRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:              db,
		Appointments:    &AppointmentRepository{db: db},
		Payments:        &PaymentRepository{db: db},
		RedeemCodes:     &RedeemCodeRepository{db: db},
		ServiceWindows:  &ServiceWindowRepository{db: db},
		Rooms:           &RoomRepository{db: db},
		Reconciliations: &ReconciliationRepository{db: db},
		Attachments:     &AttachmentRepository{db: db},
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// InTx runs fn inside one transaction. Every call made through tx shares it;
// calls through the outer Store do not.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func firstOrNil[T any](q *gorm.DB) (*T, error) {
	var out T
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}
