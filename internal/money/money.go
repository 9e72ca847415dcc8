// Package money centralises fixed-point rounding rules for the two
// currencies the ledger deals in: the account currency budgets are
// tracked in (4 decimal places) and the provider currency usage costs
// arrive in (6 decimal places). All rounding is half-up so repeated
// conversions with identical inputs reproduce the same result.
package money

import "github.com/shopspring/decimal"

const (
	// AccountScale is the fixed-point scale for account-currency amounts.
	AccountScale = 4
	// ProviderScale is the fixed-point scale for provider-currency costs.
	ProviderScale = 6
)

// Account rounds v to the account-currency scale, half-up.
func Account(v decimal.Decimal) decimal.Decimal {
	return v.Round(AccountScale)
}

// Provider rounds v to the provider-currency scale, half-up.
func Provider(v decimal.Decimal) decimal.Decimal {
	return v.Round(ProviderScale)
}

// Zero is a reusable zero amount.
var Zero = decimal.Zero
