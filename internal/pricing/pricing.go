// Package pricing turns token counts into provider-currency costs using
// the per-million-token price card of each model.
package pricing

import (
	"errors"
	"fmt"

	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

var (
	ErrInvalidTokenCount = errors.New("invalid_token_count")
)

var million = decimal.NewFromInt(1_000_000)

// Cost is the priced outcome of a single model interaction, in the
// provider currency at provider scale.
type Cost struct {
	Input  decimal.Decimal
	Output decimal.Decimal
	Total  decimal.Decimal
}

// Table resolves model price cards from the live governance policy, so a
// hot reload of the policy file takes effect on the next priced call.
type Table struct {
	policy *config.PolicyHolder
}

func NewTable(policy *config.PolicyHolder) *Table {
	return &Table{policy: policy}
}

// Cost prices an interaction. Cached tokens are billed at the cache-hit
// rate and are clamped to the input count; unknown models fall back to
// the default model's card.
func (t *Table) Cost(model string, inputTokens, outputTokens, cachedTokens int64) (Cost, error) {
	if inputTokens < 0 || outputTokens < 0 || cachedTokens < 0 {
		return Cost{}, fmt.Errorf("%w: input=%d output=%d cached=%d",
			ErrInvalidTokenCount, inputTokens, outputTokens, cachedTokens)
	}
	if cachedTokens > inputTokens {
		cachedTokens = inputTokens
	}

	card := t.card(model)

	cacheHit := decimal.NewFromFloat(card.InputCacheHit)
	cacheMiss := decimal.NewFromFloat(card.InputCacheMiss)
	output := decimal.NewFromFloat(card.Output)

	input := decimal.NewFromInt(cachedTokens).Mul(cacheHit).
		Add(decimal.NewFromInt(inputTokens - cachedTokens).Mul(cacheMiss)).
		Div(million)
	out := decimal.NewFromInt(outputTokens).Mul(output).Div(million)

	return Cost{
		Input:  money.Provider(input),
		Output: money.Provider(out),
		Total:  money.Provider(input.Add(out)),
	}, nil
}

// EstimateCost prices the canonical pre-flight interaction used for
// availability checks and remaining-interaction estimates.
func (t *Table) EstimateCost(inputTokens, outputTokens int64) Cost {
	cost, _ := t.Cost(t.policy.Get().DefaultModel, inputTokens, outputTokens, 0)
	return cost
}

func (t *Table) card(model string) config.ModelPricing {
	p := t.policy.Get()
	if card, ok := p.Pricing[model]; ok {
		return card
	}
	return p.Pricing[p.DefaultModel]
}

var Module = fx.Module("pricing",
	fx.Provide(NewTable),
)
