package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/db/types"
	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// WalletTransaction is one immutable ledger entry. Amounts are signed:
// positive for credits, negative for debits. Balance snapshots capture the
// wallet balance observed under the row lock in the same transaction.
type WalletTransaction struct {
	ID                 uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID           uuid.UUID                 `gorm:"column:wallet_id;type:uuid;not null;index:idx_wallet_transactions_wallet"`
	OwnerID            uuid.UUID                 `gorm:"column:owner_id;type:uuid;not null;index:idx_wallet_transactions_owner"`
	Type               enums.TransactionType     `gorm:"column:type;type:transaction_type;not null;uniqueIndex:uq_wallet_transactions_idem,priority:2"`
	Category           enums.TransactionCategory `gorm:"column:category;type:transaction_category;not null"`
	AmountCents        int64                     `gorm:"column:amount_cents;not null"`
	BalanceBeforeCents int64                     `gorm:"column:balance_before_cents;not null"`
	BalanceAfterCents  int64                     `gorm:"column:balance_after_cents;not null"`
	Status             enums.TransactionStatus   `gorm:"column:status;type:transaction_status;not null;default:'completed'"`
	Reference          string                    `gorm:"column:reference;not null;uniqueIndex:uq_wallet_transactions_reference"`
	ExternalReference  *string                   `gorm:"column:external_reference"`
	IdempotencyKey     *string                   `gorm:"column:idempotency_key;uniqueIndex:uq_wallet_transactions_idem,priority:1"`
	Description        string                    `gorm:"column:description;not null"`
	Metadata           types.JSONMap             `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt          time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
