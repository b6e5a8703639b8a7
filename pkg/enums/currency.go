package enums

// Currency is the settlement currency. The ledger is single-currency today.
type Currency string

const CurrencyUSD Currency = "USD"

// IsValid reports whether the value is a supported currency.
func (c Currency) IsValid() bool {
	return c == CurrencyUSD
}
