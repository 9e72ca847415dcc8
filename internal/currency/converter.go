// Package currency converts provider-currency costs into the account
// currency the ledger is kept in.
package currency

import (
	"context"

	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateSource yields the account-to-provider exchange rate, e.g. 1.06
// when one account unit buys 1.06 provider units.
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// PolicySource serves the pinned rate from the governance policy.
type PolicySource struct {
	policy *config.PolicyHolder
}

func NewPolicySource(policy *config.PolicyHolder) *PolicySource {
	return &PolicySource{policy: policy}
}

func (s *PolicySource) Rate(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromFloat(s.policy.Get().AccountToProviderRate), nil
}

// Converter rounds every conversion to the fixed ledger scales so the
// same inputs always produce the same stored amounts.
type Converter struct {
	source RateSource
	log    *zap.Logger
}

func NewConverter(source RateSource, log *zap.Logger) *Converter {
	return &Converter{
		source: source,
		log:    log.Named("currency.converter"),
	}
}

// ToAccount converts a provider-currency amount into the account
// currency at account scale.
func (c *Converter) ToAccount(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := c.source.Rate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Account(amount.Div(rate)), nil
}

// ToProvider converts an account-currency amount into the provider
// currency at provider scale.
func (c *Converter) ToProvider(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := c.source.Rate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Provider(amount.Mul(rate)), nil
}
