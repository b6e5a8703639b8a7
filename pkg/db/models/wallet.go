package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// Wallet holds the authoritative balance for one owner, account kind and
// currency.
// All monetary fields are integer cents; derived figures live in the ledger.
type Wallet struct {
	ID                  uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID             uuid.UUID          `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:uq_wallets_owner_kind_currency,priority:1"`
	Kind                enums.AccountKind  `gorm:"column:kind;type:account_kind;not null;default:'individual';uniqueIndex:uq_wallets_owner_kind_currency,priority:2"`
	Currency            enums.Currency     `gorm:"column:currency;type:text;not null;default:'USD';uniqueIndex:uq_wallets_owner_kind_currency,priority:3"`
	BalanceCents        int64              `gorm:"column:balance_cents;not null;default:0"`
	FrozenCents         int64              `gorm:"column:frozen_cents;not null;default:0"`
	CreditLimitCents    int64              `gorm:"column:credit_limit_cents;not null;default:0"`
	CreditUsedCents     int64              `gorm:"column:credit_used_cents;not null;default:0"`
	TotalWithdrawnCents int64              `gorm:"column:total_withdrawn_cents;not null;default:0"`
	Status              enums.WalletStatus `gorm:"column:status;type:wallet_status;not null;default:'active'"`
	FrozenAt            *time.Time         `gorm:"column:frozen_at"`
	FreezeReason        *string            `gorm:"column:freeze_reason"`
	AdminNotes          *string            `gorm:"column:admin_notes"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableCents is the amount spendable right now: settled balance plus
// remaining credit headroom. Frozen funds are already excluded from balance.
func (w Wallet) AvailableCents() int64 {
	return w.BalanceCents + (w.CreditLimitCents - w.CreditUsedCents)
}
