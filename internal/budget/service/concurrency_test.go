package service

import (
	"context"
	"sync"
	"testing"

	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCurrentPeriodConcurrent(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "user-1", "29.99")

	const workers = 16

	var wg sync.WaitGroup
	ids := make([]int64, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			period, err := env.svc.EnsureCurrentPeriod(context.Background(), "user-1")
			errs[i] = err
			if err == nil {
				ids[i] = int64(period.ID)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, env.db.Model(&budgetdomain.BudgetPeriod{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "concurrent opens must collapse to one period")

	period := env.currentPeriod(t, "user-1")
	assertDecimalEq(t, "7.4975", period.Allocated)
}

func TestRecordUsageConcurrentConservesSum(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "user-1", "29.99")

	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.svc.RecordUsage(context.Background(), "user-1", budgetdomain.UsageReport{
				InputTokens:  1000,
				OutputTokens: 500,
				Feature:      budgetdomain.FeatureDocumentChat,
			})
		}()
	}
	wg.Wait()

	period := env.currentPeriod(t, "user-1")

	// Each interaction costs 0.00082 USD / 0.0008 EUR; no increment may
	// be lost to interleaving.
	assertDecimalEq(t, "0.0164", period.Consumed)
	assertDecimalEq(t, decimal.RequireFromString("7.4975").
		Sub(decimal.RequireFromString("0.016")).String(), period.Remaining)

	var count int64
	require.NoError(t, env.db.Model(&budgetdomain.UsageEvent{}).Count(&count).Error)
	assert.EqualValues(t, workers, count)
}

func TestConcurrentTopUpsAccumulate(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "user-1", "29.99")

	const workers = 8

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.svc.AddMidPeriodTopUp(context.Background(), "user-1", decimal.NewFromInt(1)))
		}()
	}
	wg.Wait()

	period := env.currentPeriod(t, "user-1")
	assertDecimalEq(t, "15.4975", period.Allocated)
	assertDecimalEq(t, "15.4975", period.Remaining)
}
