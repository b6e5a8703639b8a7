package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationWalletCredited      NotificationType = "wallet_credited"
	NotificationWalletDebited       NotificationType = "wallet_debited"
	NotificationWalletLowBalance    NotificationType = "wallet_low_balance"
	NotificationWalletAdjusted      NotificationType = "wallet_adjusted"
	NotificationFundsFrozen         NotificationType = "funds_frozen"
	NotificationFundsUnfrozen       NotificationType = "funds_unfrozen"
	NotificationCommissionCreated   NotificationType = "commission_created"
	NotificationCommissionApproved  NotificationType = "commission_approved"
	NotificationCommissionRejected  NotificationType = "commission_rejected"
	NotificationCommissionPaid      NotificationType = "commission_paid"
	NotificationWithdrawalRequested NotificationType = "withdrawal_requested"
	NotificationWithdrawalCompleted NotificationType = "withdrawal_completed"
	NotificationWithdrawalRejected  NotificationType = "withdrawal_rejected"
	NotificationWithdrawalFailed    NotificationType = "withdrawal_failed"
)

var validNotificationTypes = []NotificationType{
	NotificationWalletCredited,
	NotificationWalletDebited,
	NotificationWalletLowBalance,
	NotificationWalletAdjusted,
	NotificationFundsFrozen,
	NotificationFundsUnfrozen,
	NotificationCommissionCreated,
	NotificationCommissionApproved,
	NotificationCommissionRejected,
	NotificationCommissionPaid,
	NotificationWithdrawalRequested,
	NotificationWithdrawalCompleted,
	NotificationWithdrawalRejected,
	NotificationWithdrawalFailed,
}

// IsValid reports whether the value is a known NotificationType.
func (t NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
