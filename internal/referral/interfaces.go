package referral

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

// Repository manages referrals and agent profiles. The two share one
// repository because every referral mutation also touches the owning
// agent's denormalized counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateReferral(ctx context.Context, referral *models.Referral) error
	FindReferralByID(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	FindByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error)
	FindByReferredUserForUpdate(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error)
	UpdateReferral(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Referral, error)

	CreateProfile(ctx context.Context, profile *models.AgentProfile) error
	FindProfileByCode(ctx context.Context, code string) (*models.AgentProfile, error)
	FindProfileByAgent(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error)
	FindProfileByAgentForUpdate(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error)
	UpdateProfile(ctx context.Context, agentID uuid.UUID, updates map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BonusGranter awards the configured registration bonus when a referral is
// tracked. The commission engine implements it; a nil granter disables the
// bonus entirely.
type BonusGranter interface {
	GrantRegistrationBonus(ctx context.Context, tx *gorm.DB, agentID, referralID uuid.UUID) error
}
