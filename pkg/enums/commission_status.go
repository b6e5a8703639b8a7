package enums

import "fmt"

// CommissionStatus tracks the approval workflow. Paid and rejected are
// terminal; the record is immutable once either is reached.
type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusPaid     CommissionStatus = "paid"
	CommissionStatusRejected CommissionStatus = "rejected"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusPending,
	CommissionStatusApproved,
	CommissionStatusPaid,
	CommissionStatusRejected,
}

// String implements fmt.Stringer.
func (s CommissionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CommissionStatus.
func (s CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the commission can no longer change state.
func (s CommissionStatus) IsTerminal() bool {
	return s == CommissionStatusPaid || s == CommissionStatusRejected
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}
