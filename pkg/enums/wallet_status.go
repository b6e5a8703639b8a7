package enums

import "fmt"

// WalletStatus tracks the wallet lifecycle.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusFrozen    WalletStatus = "frozen"
	WalletStatusSuspended WalletStatus = "suspended"
)

var validWalletStatuses = []WalletStatus{
	WalletStatusActive,
	WalletStatusFrozen,
	WalletStatusSuspended,
}

// String implements fmt.Stringer.
func (s WalletStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known WalletStatus.
func (s WalletStatus) IsValid() bool {
	for _, candidate := range validWalletStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWalletStatus converts raw input into a WalletStatus.
func ParseWalletStatus(value string) (WalletStatus, error) {
	for _, candidate := range validWalletStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet status %q", value)
}
