package commission

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a commission repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, commission *models.Commission) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) FindPurchaseByOrder(ctx context.Context, orderID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, enums.CommissionTypePurchase).
		First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) ListApprovedByAgent(ctx context.Context, agentID uuid.UUID) ([]models.Commission, error) {
	var rows []models.Commission
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND status = ?", agentID, enums.CommissionStatusApproved).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByAgent(ctx context.Context, agentID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error) {
	query := r.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.Commission
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("id = ?", id).
		Updates(updates).Error
}
