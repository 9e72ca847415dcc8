package pricing

import (
	"testing"

	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	return NewTable(holder)
}

func TestCost(t *testing.T) {
	table := newTable(t)

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		cached int64
		total  string
	}{
		{
			name:   "all cache miss",
			model:  "deepseek-chat",
			input:  1000,
			output: 500,
			total:  "0.00082",
		},
		{
			name:   "partial cache hit",
			model:  "deepseek-chat",
			input:  1000,
			output: 500,
			cached: 400,
			total:  "0.00074",
		},
		{
			name:   "cached clamped to input",
			model:  "deepseek-chat",
			input:  1000,
			cached: 5000,
			total:  "0.00007",
		},
		{
			name:  "unknown model falls back to default card",
			model: "gpt-unknown",
			input: 1000,
			total: "0.00027",
		},
		{
			name:  "zero tokens cost nothing",
			model: "deepseek-chat",
			total: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := table.Cost(tt.model, tt.input, tt.output, tt.cached)
			require.NoError(t, err)
			assert.True(t, cost.Total.Equal(decimal.RequireFromString(tt.total)),
				"total = %s, want %s", cost.Total, tt.total)
			assert.True(t, cost.Input.Add(cost.Output).Equal(cost.Total))
		})
	}
}

func TestCostRejectsNegativeTokens(t *testing.T) {
	table := newTable(t)

	_, err := table.Cost("deepseek-chat", -1, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidTokenCount)

	_, err = table.Cost("deepseek-chat", 0, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidTokenCount)

	_, err = table.Cost("deepseek-chat", 0, 0, -1)
	assert.ErrorIs(t, err, ErrInvalidTokenCount)
}

func TestEstimateCost(t *testing.T) {
	table := newTable(t)

	cost := table.EstimateCost(1000, 500)
	assert.True(t, cost.Total.Equal(decimal.RequireFromString("0.00082")))
}
