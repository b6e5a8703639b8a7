package commission

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/internal/wallet"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

// Repository manages commission persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, commission *models.Commission) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	FindPurchaseByOrder(ctx context.Context, orderID uuid.UUID) (*models.Commission, error)
	ListApprovedByAgent(ctx context.Context, agentID uuid.UUID) ([]models.Commission, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// walletService is the slice of the wallet engine the payout path needs.
type walletService interface {
	EnsureWallet(ctx context.Context, input wallet.EnsureWalletInput) (*models.Wallet, error)
	Credit(ctx context.Context, input wallet.CreditInput) (*wallet.MutationResult, error)
}
