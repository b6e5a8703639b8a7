package enums

import "fmt"

// ReferralStatus tracks the referral lifecycle: pending until the referred
// user's first qualifying purchase, then active.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "pending"
	ReferralStatusActive   ReferralStatus = "active"
	ReferralStatusInactive ReferralStatus = "inactive"
)

var validReferralStatuses = []ReferralStatus{
	ReferralStatusPending,
	ReferralStatusActive,
	ReferralStatusInactive,
}

// IsValid reports whether the value is a known ReferralStatus.
func (s ReferralStatus) IsValid() bool {
	for _, candidate := range validReferralStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReferralStatus converts raw input into a ReferralStatus.
func ParseReferralStatus(value string) (ReferralStatus, error) {
	for _, candidate := range validReferralStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid referral status %q", value)
}
