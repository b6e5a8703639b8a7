package enums

import "fmt"

// CommissionType classifies the event that generated a commission.
type CommissionType string

const (
	CommissionTypeRegistration CommissionType = "registration"
	CommissionTypePurchase     CommissionType = "purchase"
	CommissionTypeBonus        CommissionType = "bonus"
	CommissionTypeTierUpgrade  CommissionType = "tier_upgrade"
)

var validCommissionTypes = []CommissionType{
	CommissionTypeRegistration,
	CommissionTypePurchase,
	CommissionTypeBonus,
	CommissionTypeTierUpgrade,
}

// IsValid reports whether the value is a known CommissionType.
func (t CommissionType) IsValid() bool {
	for _, candidate := range validCommissionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCommissionType converts raw input into a CommissionType.
func ParseCommissionType(value string) (CommissionType, error) {
	for _, candidate := range validCommissionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission type %q", value)
}
