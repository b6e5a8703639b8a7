package withdrawal

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/internal/wallet"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

// Repository manages withdrawal request persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.WithdrawalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	FindByReference(ctx context.Context, reference string) (*models.WithdrawalRequest, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, status enums.WithdrawalStatus, limit int) ([]models.WithdrawalRequest, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

// PayoutProvider is the external bank-transfer collaborator. Transfer is
// called synchronously during approval; a timeout leaves the request in
// processing for later reconciliation.
type PayoutProvider interface {
	CreateRecipient(ctx context.Context, details BankDetails) (string, error)
	Transfer(ctx context.Context, recipientRef string, amountCents int64, reason string) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// walletService is the slice of the wallet engine the withdrawal flow uses.
type walletService interface {
	Get(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID, kind enums.AccountKind, currency enums.Currency) (*models.Wallet, error)
	FreezeTx(ctx context.Context, tx *gorm.DB, input wallet.HoldInput) (*wallet.MutationResult, error)
	Unfreeze(ctx context.Context, input wallet.HoldInput) (*wallet.MutationResult, error)
	SettleWithdrawal(ctx context.Context, input wallet.SettleWithdrawalInput) (*wallet.MutationResult, error)
}
