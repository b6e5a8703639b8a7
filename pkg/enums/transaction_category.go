package enums

import "fmt"

// TransactionCategory sub-classifies ledger entries for reporting.
type TransactionCategory string

const (
	TransactionCategoryCredit               TransactionCategory = "credit"
	TransactionCategoryDebit                TransactionCategory = "debit"
	TransactionCategoryCreditRepayment      TransactionCategory = "credit_repayment"
	TransactionCategoryFreeze               TransactionCategory = "freeze"
	TransactionCategoryUnfreeze             TransactionCategory = "unfreeze"
	TransactionCategoryAdminAdjustment      TransactionCategory = "admin_adjustment"
	TransactionCategoryCommissionPayout     TransactionCategory = "commission_payout"
	TransactionCategoryWithdrawalSettlement TransactionCategory = "withdrawal_settlement"
	TransactionCategoryRegistrationBonus    TransactionCategory = "registration_bonus"
)

var validTransactionCategories = []TransactionCategory{
	TransactionCategoryCredit,
	TransactionCategoryDebit,
	TransactionCategoryCreditRepayment,
	TransactionCategoryFreeze,
	TransactionCategoryUnfreeze,
	TransactionCategoryAdminAdjustment,
	TransactionCategoryCommissionPayout,
	TransactionCategoryWithdrawalSettlement,
	TransactionCategoryRegistrationBonus,
}

// IsValid reports whether the value is a known TransactionCategory.
func (c TransactionCategory) IsValid() bool {
	for _, candidate := range validTransactionCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseTransactionCategory converts raw input into a TransactionCategory.
func ParseTransactionCategory(value string) (TransactionCategory, error) {
	for _, candidate := range validTransactionCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction category %q", value)
}
