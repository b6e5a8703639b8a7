package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/pagination"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	walletTransactions := `
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  type TEXT NOT NULL,
  category TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  balance_before_cents INTEGER NOT NULL,
  balance_after_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  reference TEXT NOT NULL UNIQUE,
  external_reference TEXT,
  idempotency_key TEXT,
  description TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME,
  UNIQUE (idempotency_key, type)
);`
	require.NoError(t, db.Exec(walletTransactions).Error)
	return db
}

func newEntry(walletID, ownerID uuid.UUID, amount int64, reference string, createdAt time.Time) models.WalletTransaction {
	return models.WalletTransaction{
		ID:                 uuid.New(),
		WalletID:           walletID,
		OwnerID:            ownerID,
		Type:               enums.TransactionTypeDeposit,
		Category:           enums.TransactionCategoryCredit,
		AmountCents:        amount,
		BalanceBeforeCents: 0,
		BalanceAfterCents:  amount,
		Status:             enums.TransactionStatusCompleted,
		Reference:          reference,
		Description:        "test entry",
		CreatedAt:          createdAt,
	}
}

func TestRepositoryCreateAndFindByReference(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	walletID := uuid.New()
	ownerID := uuid.New()
	entry := newEntry(walletID, ownerID, 5000, "TXN-create-1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, &entry))

	found, err := repo.FindByReference(ctx, "TXN-create-1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)
	assert.Equal(t, int64(5000), found.AmountCents)
	assert.Equal(t, enums.TransactionStatusCompleted, found.Status)
}

func TestRepositoryFindByIdempotencyKey(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	key := "commission:" + uuid.NewString()
	entry := newEntry(uuid.New(), uuid.New(), 2500, "TXN-idem-1", time.Now().UTC())
	entry.Type = enums.TransactionTypeCommission
	entry.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, &entry))

	found, err := repo.FindByIdempotencyKey(ctx, key, enums.TransactionTypeCommission)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entry.ID, found.ID)

	// same key under a different type is a distinct operation
	missing, err := repo.FindByIdempotencyKey(ctx, key, enums.TransactionTypeDeposit)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryDuplicateIdempotencyKeyRejected(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	key := "dep-42"
	first := newEntry(uuid.New(), uuid.New(), 1000, "TXN-dup-1", time.Now().UTC())
	first.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, &first))

	second := newEntry(uuid.New(), uuid.New(), 1000, "TXN-dup-2", time.Now().UTC())
	second.IdempotencyKey = &key
	err := repo.Create(ctx, &second)
	require.Error(t, err)
}

func TestRepositoryListByWalletPagination(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	walletID := uuid.New()
	ownerID := uuid.New()
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		entry := newEntry(walletID, ownerID, int64(100*(i+1)), uuid.NewString(), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, &entry))
	}

	page, err := repo.ListByWallet(ctx, walletID, nil, 2)
	require.NoError(t, err)
	// limit+1 buffer row for next-page detection
	require.Len(t, page, 3)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	cursor := &pagination.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	next, err := repo.ListByWallet(ctx, walletID, cursor, 10)
	require.NoError(t, err)
	require.Len(t, next, 3)
	for _, entry := range next {
		assert.True(t, entry.CreatedAt.Before(cursor.CreatedAt))
	}
}

func TestRepositorySumCompletedByWallet(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	walletID := uuid.New()
	ownerID := uuid.New()
	now := time.Now().UTC()

	credit := newEntry(walletID, ownerID, 10000, "TXN-sum-1", now)
	require.NoError(t, repo.Create(ctx, &credit))

	debit := newEntry(walletID, ownerID, -4000, "TXN-sum-2", now)
	debit.Type = enums.TransactionTypePayment
	debit.Category = enums.TransactionCategoryDebit
	require.NoError(t, repo.Create(ctx, &debit))

	pending := newEntry(walletID, ownerID, 9999, "TXN-sum-3", now)
	pending.Status = enums.TransactionStatusPending
	require.NoError(t, repo.Create(ctx, &pending))

	total, err := repo.SumCompletedByWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), total)

	settlement := newEntry(walletID, ownerID, -2000, "TXN-sum-4", now)
	settlement.Type = enums.TransactionTypeWithdrawal
	settlement.Category = enums.TransactionCategoryWithdrawalSettlement
	require.NoError(t, repo.Create(ctx, &settlement))

	withoutSettlement, err := repo.SumCompletedByWallet(ctx, walletID, enums.TransactionCategoryWithdrawalSettlement)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), withoutSettlement)
}
