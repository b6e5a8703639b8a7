package commission

import (
	"github.com/google/uuid"
)

// CalculateInput computes the purchase commission for one completed order.
type CalculateInput struct {
	OrderID        uuid.UUID
	ReferredUserID uuid.UUID
}

// ReviewInput approves or rejects a pending commission.
type ReviewInput struct {
	CommissionID uuid.UUID
	Actor        uuid.UUID
	Reason       string
}

// BulkPayoutResult reports a bulk payout run. Individual payment failures
// are collected in Failures rather than aborting the run.
type BulkPayoutResult struct {
	RequestedCount int
	PaidCount      int
	TotalPaidCents int64
	Failures       error
}
