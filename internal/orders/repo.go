package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order read repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.VendorOrder, error) {
	var order models.VendorOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListCompletedByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit int) ([]models.VendorOrder, error) {
	var rows []models.VendorOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_user_id = ? AND status = ?", buyerUserID, enums.OrderStatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
