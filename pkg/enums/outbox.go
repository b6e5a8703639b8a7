package enums

import "fmt"

// OutboxEventType identifies the domain event stored in outbox_events.
type OutboxEventType string

const (
	EventWalletBalanceUpdated    OutboxEventType = "wallet.balance_updated"
	EventWalletLowBalance        OutboxEventType = "wallet.low_balance"
	EventWalletFundsFrozen       OutboxEventType = "wallet.funds_frozen"
	EventWalletFundsUnfrozen     OutboxEventType = "wallet.funds_unfrozen"
	EventWalletAdjusted          OutboxEventType = "wallet.adjusted"
	EventCommissionStatusChanged OutboxEventType = "commission.status_changed"
	EventReferralTracked         OutboxEventType = "referral.tracked"
	EventReferralActivated       OutboxEventType = "referral.activated"
	EventWithdrawalStatusChanged OutboxEventType = "withdrawal.status_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventWalletBalanceUpdated,
	EventWalletLowBalance,
	EventWalletFundsFrozen,
	EventWalletFundsUnfrozen,
	EventWalletAdjusted,
	EventCommissionStatusChanged,
	EventReferralTracked,
	EventReferralActivated,
	EventWithdrawalStatusChanged,
}

// IsValid reports whether the value is a known OutboxEventType.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateWallet     OutboxAggregateType = "wallet"
	AggregateCommission OutboxAggregateType = "commission"
	AggregateReferral   OutboxAggregateType = "referral"
	AggregateWithdrawal OutboxAggregateType = "withdrawal"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateWallet,
	AggregateCommission,
	AggregateReferral,
	AggregateWithdrawal,
}

// IsValid reports whether the value is a known OutboxAggregateType.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
