package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string, txType enums.TransactionType) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND type = ?", key, txType).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	return listPage(query, cursor, limit)
}

func (r *repository) ListByWallet(ctx context.Context, walletID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	return listPage(query, cursor, limit)
}

func (r *repository) SumCompletedByWallet(ctx context.Context, walletID uuid.UUID, exclude ...enums.TransactionCategory) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("wallet_id = ? AND status = ?", walletID, enums.TransactionStatusCompleted)
	if len(exclude) > 0 {
		query = query.Where("category NOT IN ?", exclude)
	}
	var total int64
	err := query.Scan(&total).Error
	return total, err
}

func listPage(query *gorm.DB, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	var entries []models.WalletTransaction
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
