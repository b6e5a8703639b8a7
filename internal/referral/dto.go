package referral

import (
	"github.com/google/uuid"
)

// TrackReferralInput registers a referred user against an agent's code.
type TrackReferralInput struct {
	Code           string
	ReferredUserID uuid.UUID
}

// ActivateInput marks a referral active after the referred user's first
// qualifying purchase.
type ActivateInput struct {
	ReferredUserID uuid.UUID
	FirstOrderID   *uuid.UUID
}
