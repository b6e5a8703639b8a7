package wallet

import (
	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/db/types"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

// EnsureWalletInput provisions a wallet lazily for an owner.
type EnsureWalletInput struct {
	OwnerID  uuid.UUID
	Kind     enums.AccountKind
	Currency enums.Currency
}

// CreditInput increases a wallet's funds. Outstanding credit is repaid
// before the remainder lands on the balance.
type CreditInput struct {
	WalletID          uuid.UUID
	AmountCents       int64
	Type              enums.TransactionType
	Category          enums.TransactionCategory
	Description       string
	Reference         string
	ExternalReference *string
	IdempotencyKey    string
	Metadata          types.JSONMap
	Actor             *outbox.ActorRef
}

// DebitInput decreases available funds, drawing balance first and then
// unused credit.
type DebitInput struct {
	WalletID          uuid.UUID
	AmountCents       int64
	Type              enums.TransactionType
	Description       string
	Reference         string
	ExternalReference *string
	IdempotencyKey    string
	Metadata          types.JSONMap
	Actor             *outbox.ActorRef
}

// HoldInput moves funds between the balance and frozen buckets.
type HoldInput struct {
	WalletID       uuid.UUID
	AmountCents    int64
	Reason         string
	Reference      string
	IdempotencyKey string
	Actor          *outbox.ActorRef
}

// AdjustInput applies a signed admin correction to the balance.
type AdjustInput struct {
	WalletID    uuid.UUID
	AmountCents int64
	Reason      string
	AdjustedBy  uuid.UUID
}

// SetCreditLimitInput replaces the wallet's credit ceiling.
type SetCreditLimitInput struct {
	WalletID      uuid.UUID
	NewLimitCents int64
	UpdatedBy     uuid.UUID
	Note          string
}

// SettleWithdrawalInput burns frozen funds after a successful payout.
type SettleWithdrawalInput struct {
	WalletID          uuid.UUID
	AmountCents       int64
	Reference         string
	ExternalReference *string
	IdempotencyKey    string
	Description       string
	Actor             *outbox.ActorRef
}

// MutationResult reports the wallet state and ledger entry produced by one
// mutation. AlreadyApplied is set when an idempotency key replay short-circuits.
type MutationResult struct {
	Wallet         *models.Wallet
	Entry          *models.WalletTransaction
	AlreadyApplied bool
}
