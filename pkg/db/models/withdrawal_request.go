package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// WithdrawalRequest tracks an owner's request to move wallet funds to an
// external bank account. The requested amount stays frozen in the wallet
// until the request reaches a terminal status.
type WithdrawalRequest struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID         uuid.UUID              `gorm:"column:owner_id;type:uuid;not null;index:idx_withdrawal_requests_owner"`
	WalletID        uuid.UUID              `gorm:"column:wallet_id;type:uuid;not null"`
	AmountCents     int64                  `gorm:"column:amount_cents;not null"`
	Currency        enums.Currency         `gorm:"column:currency;type:text;not null;default:'USD'"`
	BankName        string                 `gorm:"column:bank_name;not null"`
	AccountName     string                 `gorm:"column:account_name;not null"`
	AccountNumber   string                 `gorm:"column:account_number;not null"`
	RoutingNumber   *string                `gorm:"column:routing_number"`
	Status          enums.WithdrawalStatus `gorm:"column:status;type:withdrawal_status;not null;default:'pending'"`
	Reference       string                 `gorm:"column:reference;not null;uniqueIndex:uq_withdrawal_requests_reference"`
	PayoutReference *string                `gorm:"column:payout_reference"`
	AdminNote       *string                `gorm:"column:admin_note"`
	ReviewedBy      *uuid.UUID             `gorm:"column:reviewed_by;type:uuid"`
	ReviewedAt      *time.Time             `gorm:"column:reviewed_at"`
	SettledAt       *time.Time             `gorm:"column:settled_at"`
	FailureReason   *string                `gorm:"column:failure_reason"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
