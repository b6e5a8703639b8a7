package payloads

import (
	"time"

	"github.com/google/uuid"
)

// WalletBalanceUpdatedEvent is emitted for every ledger entry that moves the
// settled balance.
type WalletBalanceUpdatedEvent struct {
	WalletID           uuid.UUID `json:"walletId"`
	OwnerID            uuid.UUID `json:"ownerId"`
	TransactionID      uuid.UUID `json:"transactionId"`
	Type               string    `json:"type"`
	Category           string    `json:"category"`
	AmountCents        int64     `json:"amountCents"`
	BalanceBeforeCents int64     `json:"balanceBeforeCents"`
	BalanceAfterCents  int64     `json:"balanceAfterCents"`
	AvailableCents     int64     `json:"availableCents"`
	Reference          string    `json:"reference"`
}

// WalletLowBalanceEvent fires when a debit drops the available balance below
// the configured threshold.
type WalletLowBalanceEvent struct {
	WalletID       uuid.UUID `json:"walletId"`
	OwnerID        uuid.UUID `json:"ownerId"`
	AvailableCents int64     `json:"availableCents"`
	ThresholdCents int64     `json:"thresholdCents"`
}

// WalletFundsFrozenEvent reports funds moved from balance to the frozen bucket.
type WalletFundsFrozenEvent struct {
	WalletID    uuid.UUID `json:"walletId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	AmountCents int64     `json:"amountCents"`
	FrozenCents int64     `json:"frozenCents"`
	Reference   string    `json:"reference"`
}

// WalletFundsUnfrozenEvent reports funds released back to the settled balance.
type WalletFundsUnfrozenEvent struct {
	WalletID    uuid.UUID `json:"walletId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	AmountCents int64     `json:"amountCents"`
	FrozenCents int64     `json:"frozenCents"`
	Reference   string    `json:"reference"`
}

// WalletAdjustedEvent reports a manual admin balance adjustment.
type WalletAdjustedEvent struct {
	WalletID    uuid.UUID `json:"walletId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	AmountCents int64     `json:"amountCents"`
	Reason      string    `json:"reason"`
	AdjustedBy  uuid.UUID `json:"adjustedBy"`
}

// CommissionStatusChangedEvent reports a commission lifecycle transition.
type CommissionStatusChangedEvent struct {
	CommissionID     uuid.UUID `json:"commissionId"`
	AgentID          uuid.UUID `json:"agentId"`
	Type             string    `json:"type"`
	AmountCents      int64     `json:"amountCents"`
	OldStatus        string    `json:"oldStatus"`
	NewStatus        string    `json:"newStatus"`
	PaymentReference string    `json:"paymentReference,omitempty"`
}

// ReferralTrackedEvent reports a new referral registration.
type ReferralTrackedEvent struct {
	ReferralID     uuid.UUID `json:"referralId"`
	AgentID        uuid.UUID `json:"agentId"`
	ReferredUserID uuid.UUID `json:"referredUserId"`
	Code           string    `json:"code"`
}

// ReferralActivatedEvent reports a referral's first completed purchase.
type ReferralActivatedEvent struct {
	ReferralID     uuid.UUID  `json:"referralId"`
	AgentID        uuid.UUID  `json:"agentId"`
	ReferredUserID uuid.UUID  `json:"referredUserId"`
	FirstOrderID   *uuid.UUID `json:"firstOrderId,omitempty"`
	ActivatedAt    time.Time  `json:"activatedAt"`
}

// WithdrawalStatusChangedEvent reports a withdrawal request transition.
type WithdrawalStatusChangedEvent struct {
	WithdrawalID  uuid.UUID `json:"withdrawalId"`
	OwnerID       uuid.UUID `json:"ownerId"`
	AmountCents   int64     `json:"amountCents"`
	OldStatus     string    `json:"oldStatus"`
	NewStatus     string    `json:"newStatus"`
	Reference     string    `json:"reference"`
	FailureReason string    `json:"failureReason,omitempty"`
}
