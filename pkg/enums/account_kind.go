package enums

import "fmt"

// AccountKind distinguishes individual trader wallets from sales-agent wallets.
type AccountKind string

const (
	AccountKindIndividual AccountKind = "individual"
	AccountKindAgent      AccountKind = "agent"
)

var validAccountKinds = []AccountKind{
	AccountKindIndividual,
	AccountKindAgent,
}

// String implements fmt.Stringer.
func (k AccountKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known AccountKind.
func (k AccountKind) IsValid() bool {
	for _, candidate := range validAccountKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseAccountKind converts raw input into an AccountKind.
func ParseAccountKind(value string) (AccountKind, error) {
	for _, candidate := range validAccountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account kind %q", value)
}
