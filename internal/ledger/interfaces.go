package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/pagination"
)

// Repository manages persistence for wallet ledger entries. Entries are
// append-only; nothing here updates or deletes a row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.WalletTransaction) error
	FindByReference(ctx context.Context, reference string) (*models.WalletTransaction, error)
	FindByIdempotencyKey(ctx context.Context, key string, txType enums.TransactionType) (*models.WalletTransaction, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error)
	SumCompletedByWallet(ctx context.Context, walletID uuid.UUID, exclude ...enums.TransactionCategory) (int64, error)
}
