package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

// Repository manages wallet persistence. Mutations load the row FOR UPDATE
// so balance math runs under the row lock.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, wallet *models.Wallet) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	FindByOwner(ctx context.Context, ownerID uuid.UUID, kind enums.AccountKind, currency enums.Currency) (*models.Wallet, error)
	FindByOwnerForUpdate(ctx context.Context, ownerID uuid.UUID, kind enums.AccountKind, currency enums.Currency) (*models.Wallet, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListBatch(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Wallet, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type operationMetrics interface {
	IncOperation(category string)
	IncFailure(category, code string)
}
