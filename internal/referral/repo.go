package referral

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a referral repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateReferral(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

func (r *repository) FindReferralByID(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) FindByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_user_id = ?", referredUserID).
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) FindByReferredUserForUpdate(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("referred_user_id = ?", referredUserID).
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) UpdateReferral(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Referral, error) {
	var rows []models.Referral
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateProfile(ctx context.Context, profile *models.AgentProfile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *repository) FindProfileByCode(ctx context.Context, code string) (*models.AgentProfile, error) {
	var profile models.AgentProfile
	err := r.db.WithContext(ctx).
		Where("referral_code = ?", code).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindProfileByAgent(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	var profile models.AgentProfile
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindProfileByAgentForUpdate(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	var profile models.AgentProfile
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("agent_id = ?", agentID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) UpdateProfile(ctx context.Context, agentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.AgentProfile{}).
		Where("agent_id = ?", agentID).
		Updates(updates).Error
}
