package repository

import (
	"context"

	"dentalclinic/internal/domain"

	"gorm.io/gorm"
)

type RedeemCodeRepository struct {
	db *gorm.DB
}

func (r *RedeemCodeRepository) Create(ctx context.Context, c *domain.RedeemCode) error {
	c.Code = domain.NormalizeCode(c.Code)
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *RedeemCodeRepository) GetByCode(ctx context.Context, code string) (*domain.RedeemCode, error) {
	var c domain.RedeemCode
	if err := r.db.WithContext(ctx).Where("UPPER(code) = ?", domain.NormalizeCode(code)).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedeemCodeRepository) GetByID(ctx context.Context, id int64) (*domain.RedeemCode, error) {
	var c domain.RedeemCode
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedeemCodeRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.RedeemCode, error) {
	var c domain.RedeemCode
	if err := forUpdate(r.db.WithContext(ctx)).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedeemCodeRepository) List(ctx context.Context) ([]domain.RedeemCode, error) {
	var out []domain.RedeemCode
	err := r.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

// IncrementUsage bumps usage_count in SQL so concurrent redemptions never lose updates.
func (r *RedeemCodeRepository) IncrementUsage(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&domain.RedeemCode{}).Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
}

func (r *RedeemCodeRepository) CountUserRedemptions(ctx context.Context, codeID, userID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.RedemptionRecord{}).
		Where("redeem_code_ref = ? AND user_ref = ?", codeID, userID).
		Count(&n).Error
	return n, err
}

func (r *RedeemCodeRepository) CountRedemptions(ctx context.Context, codeID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.RedemptionRecord{}).
		Where("redeem_code_ref = ?", codeID).
		Count(&n).Error
	return n, err
}

func (r *RedeemCodeRepository) FindRedemptionByPayment(ctx context.Context, paymentID int64) (*domain.RedemptionRecord, error) {
	return firstOrNil[domain.RedemptionRecord](r.db.WithContext(ctx).Where("payment_ref = ?", paymentID))
}

func (r *RedeemCodeRepository) CreateRedemption(ctx context.Context, rec *domain.RedemptionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}
