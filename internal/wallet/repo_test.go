package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
)

func setupWalletTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	wallets := `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  currency TEXT NOT NULL,
  balance_cents INTEGER NOT NULL DEFAULT 0,
  frozen_cents INTEGER NOT NULL DEFAULT 0,
  credit_limit_cents INTEGER NOT NULL DEFAULT 0,
  credit_used_cents INTEGER NOT NULL DEFAULT 0,
  total_withdrawn_cents INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  frozen_at DATETIME,
  freeze_reason TEXT,
  admin_notes TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (owner_id, kind, currency)
);`
	require.NoError(t, db.Exec(wallets).Error)
	return db
}

func seedWallet(t *testing.T, repo Repository, ownerID uuid.UUID, currency enums.Currency, balance int64) *models.Wallet {
	t.Helper()

	wallet := &models.Wallet{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Kind:         enums.AccountKindIndividual,
		Currency:     currency,
		BalanceCents: balance,
		Status:       enums.WalletStatusActive,
	}
	require.NoError(t, repo.Create(context.Background(), wallet))
	return wallet
}

func TestWalletRepositoryCreateAndFind(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	ownerID := uuid.New()
	wallet := seedWallet(t, repo, ownerID, enums.CurrencyUSD, 12_500)

	byID, err := repo.FindByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12_500), byID.BalanceCents)

	byOwner, err := repo.FindByOwner(ctx, ownerID, enums.AccountKindIndividual, enums.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, byOwner.ID)

	// lookups are keyed per account kind
	_, err = repo.FindByOwner(ctx, ownerID, enums.AccountKindAgent, enums.CurrencyUSD)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repo.FindByOwner(ctx, uuid.New(), enums.AccountKindIndividual, enums.CurrencyUSD)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestWalletRepositoryOwnerKindCurrencyUnique(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)

	ownerID := uuid.New()
	seedWallet(t, repo, ownerID, enums.CurrencyUSD, 0)

	dup := &models.Wallet{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Kind:     enums.AccountKindIndividual,
		Currency: enums.CurrencyUSD,
		Status:   enums.WalletStatusActive,
	}
	err := repo.Create(context.Background(), dup)
	require.Error(t, err)

	// an agent wallet for the same owner and currency is a distinct row
	agent := &models.Wallet{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Kind:     enums.AccountKindAgent,
		Currency: enums.CurrencyUSD,
		Status:   enums.WalletStatusActive,
	}
	require.NoError(t, repo.Create(context.Background(), agent))
}

func TestWalletRepositoryUpdateColumns(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	wallet := seedWallet(t, repo, uuid.New(), enums.CurrencyUSD, 5_000)

	updates := map[string]any{
		"balance_cents": int64(3_000),
		"frozen_cents":  int64(2_000),
	}
	require.NoError(t, repo.Update(ctx, wallet.ID, updates))

	reloaded, err := repo.FindByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), reloaded.BalanceCents)
	assert.Equal(t, int64(2_000), reloaded.FrozenCents)
}

func TestWalletRepositoryListBatch(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedWallet(t, repo, uuid.New(), enums.CurrencyUSD, int64(i))
	}

	first, err := repo.ListBatch(ctx, uuid.Nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := repo.ListBatch(ctx, first[2].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	for _, wallet := range rest {
		assert.Greater(t, wallet.ID.String(), first[2].ID.String())
	}
}
