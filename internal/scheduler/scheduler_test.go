package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	budgetrepo "github.com/quadernolabs/quaderno/internal/budget/repository"
	budgetservice "github.com/quadernolabs/quaderno/internal/budget/service"
	"github.com/quadernolabs/quaderno/internal/clock"
	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/currency"
	"github.com/quadernolabs/quaderno/internal/pricing"
	subscriptiondomain "github.com/quadernolabs/quaderno/internal/subscription/domain"
	subscriptionrepo "github.com/quadernolabs/quaderno/internal/subscription/repository"
	subscriptionservice "github.com/quadernolabs/quaderno/internal/subscription/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSchedulerEnv(t *testing.T) (*Scheduler, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&budgetdomain.BudgetPeriod{},
		&budgetdomain.UsageEvent{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC))
	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: zap.NewNop(), Repo: subscriptionrepo.Provide(),
	})
	budgetSvc := budgetservice.NewService(budgetservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Policy:  holder,
		Repo:    budgetrepo.Provide(),
		Subs:    subs,
		Pricing: pricing.NewTable(holder),
		Conv:    currency.NewConverter(currency.NewPolicySource(holder), zap.NewNop()),
	})

	sched, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     fc,
		BudgetSvc: budgetSvc,
	})
	require.NoError(t, err)
	return sched, db, fc, node
}

func TestBudgetRolloverJobOpensNextPeriod(t *testing.T) {
	sched, db, fc, node := newSchedulerEnv(t)

	sub := subscriptiondomain.Subscription{
		ID:        node.Generate(),
		UserID:    "user-1",
		Status:    subscriptiondomain.StatusActive,
		Price:     decimal.RequireFromString("29.99"),
		CreatedAt: fc.Now().Add(-40 * 24 * time.Hour),
		UpdatedAt: fc.Now(),
	}
	require.NoError(t, db.Create(&sub).Error)

	// March period, already over when the sweep runs on April 1st.
	expired := budgetdomain.BudgetPeriod{
		ID:             node.Generate(),
		UserID:         "user-1",
		SubscriptionID: sub.ID,
		PeriodStart:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Allocated:      decimal.RequireFromString("7.4975"),
		Consumed:       decimal.RequireFromString("7.2"),
		Remaining:      decimal.RequireFromString("0.7052"),
	}
	require.NoError(t, db.Create(&expired).Error)

	require.NoError(t, sched.BudgetRolloverJob(context.Background()))

	var periods []budgetdomain.BudgetPeriod
	require.NoError(t, db.Where("user_id = ?", "user-1").
		Order("period_start ASC").Find(&periods).Error)
	require.Len(t, periods, 2)

	// The old row is frozen, the new one carries a fresh allocation.
	assert.True(t, periods[0].Remaining.Sub(decimal.RequireFromString("0.7052")).Abs().LessThan(decimal.New(1, -9)))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), periods[1].PeriodStart.UTC())
	assert.True(t, periods[1].Allocated.Sub(decimal.RequireFromString("7.4975")).Abs().LessThan(decimal.New(1, -9)))
	assert.True(t, periods[1].Consumed.IsZero())
}

func TestBudgetRolloverJobSkipsInactiveSubscriptions(t *testing.T) {
	sched, db, fc, node := newSchedulerEnv(t)

	sub := subscriptiondomain.Subscription{
		ID:        node.Generate(),
		UserID:    "user-2",
		Status:    subscriptiondomain.StatusCanceled,
		Price:     decimal.RequireFromString("29.99"),
		CreatedAt: fc.Now().Add(-40 * 24 * time.Hour),
		UpdatedAt: fc.Now(),
	}
	require.NoError(t, db.Create(&sub).Error)
	require.NoError(t, db.Create(&budgetdomain.BudgetPeriod{
		ID:             node.Generate(),
		UserID:         "user-2",
		SubscriptionID: sub.ID,
		PeriodStart:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Allocated:      decimal.RequireFromString("7.4975"),
		Consumed:       decimal.Zero,
		Remaining:      decimal.RequireFromString("7.4975"),
	}).Error)

	require.NoError(t, sched.BudgetRolloverJob(context.Background()))

	var count int64
	require.NoError(t, db.Model(&budgetdomain.BudgetPeriod{}).
		Where("user_id = ?", "user-2").Count(&count).Error)
	assert.EqualValues(t, 1, count, "canceled subscriptions are left alone")
}

func TestRunJobRecoversFromPanic(t *testing.T) {
	sched, _, _, _ := newSchedulerEnv(t)

	err := sched.runJob(context.Background(), "explode", func(ctx context.Context) error {
		panic("boom")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
