package withdrawal

import (
	"github.com/google/uuid"
)

// BankDetails is the payout destination supplied with a request.
type BankDetails struct {
	BankName      string  `validate:"required,min=2,max=128"`
	AccountName   string  `validate:"required,min=2,max=128"`
	AccountNumber string  `validate:"required,min=4,max=34"`
	RoutingNumber *string `validate:"omitempty,min=4,max=16"`
}

// RequestInput opens a withdrawal and freezes the requested amount.
type RequestInput struct {
	OwnerID     uuid.UUID
	AmountCents int64
	Bank        BankDetails
}

// ReviewInput carries an admin decision on a pending request.
type ReviewInput struct {
	WithdrawalID uuid.UUID
	Actor        uuid.UUID
	Note         string
}

// ResolveInput settles a request stuck in processing once the transfer
// outcome is known out of band.
type ResolveInput struct {
	WithdrawalID    uuid.UUID
	Actor           uuid.UUID
	PayoutReference string
	FailureReason   string
}
