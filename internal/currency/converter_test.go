package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConverterToAccount(t *testing.T) {
	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	conv := NewConverter(NewPolicySource(holder), zap.NewNop())

	// 0.00082 USD at 1.06 EUR/USD rounds half up to 0.0008 EUR.
	got, err := conv.ToAccount(context.Background(), decimal.RequireFromString("0.00082"))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.0008")), "got %s", got)

	got, err = conv.ToAccount(context.Background(), decimal.RequireFromString("1.06"))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1)))
}

func TestConverterToProvider(t *testing.T) {
	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	conv := NewConverter(NewPolicySource(holder), zap.NewNop())

	got, err := conv.ToProvider(context.Background(), decimal.RequireFromString("7.25"))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("7.685")), "got %s", got)
}

func TestConverterIsDeterministic(t *testing.T) {
	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	conv := NewConverter(NewPolicySource(holder), zap.NewNop())

	amount := decimal.RequireFromString("0.000133")
	first, err := conv.ToAccount(context.Background(), amount)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := conv.ToAccount(context.Background(), amount)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestHTTPSourceRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EUR", r.URL.Query().Get("base"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.08}}`))
	}))
	defer srv.Close()

	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	src := NewHTTPSource(config.Config{RatesURL: srv.URL}, holder, zap.NewNop())

	// Before the first refresh the pinned policy rate is served.
	rate, err := src.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.06")))

	require.NoError(t, src.Refresh(context.Background()))

	rate, err = src.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.08")))
}

func TestHTTPSourceRefreshFailureKeepsLastRate(t *testing.T) {
	var failing bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.10}}`))
	}))
	defer srv.Close()

	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	src := NewHTTPSource(config.Config{RatesURL: srv.URL}, holder, zap.NewNop())
	require.NoError(t, src.Refresh(context.Background()))

	failing = true
	assert.Error(t, src.Refresh(context.Background()))

	rate, err := src.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.10")))
}
