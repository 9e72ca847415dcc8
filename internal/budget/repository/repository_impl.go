package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() budgetdomain.Repository {
	return &repo{}
}

func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, userID string, subscriptionID snowflake.ID, at time.Time) (*budgetdomain.BudgetPeriod, error) {
	var period budgetdomain.BudgetPeriod
	err := db.WithContext(ctx).
		Where("user_id = ? AND subscription_id = ?", userID, subscriptionID).
		Where("period_start <= ? AND period_end > ?", at, at).
		Order("period_start DESC").
		First(&period).Error
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (r *repo) CreateIfAbsent(ctx context.Context, db *gorm.DB, period *budgetdomain.BudgetPeriod) (*budgetdomain.BudgetPeriod, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "subscription_id"},
				{Name: "period_start"},
				{Name: "period_end"},
			},
			DoNothing: true,
		}).
		Create(period).Error
	if err != nil {
		return nil, err
	}

	// The insert may have been a no-op; the surviving row is canonical
	// either way.
	var current budgetdomain.BudgetPeriod
	err = db.WithContext(ctx).
		Where("user_id = ? AND subscription_id = ?", period.UserID, period.SubscriptionID).
		Where("period_start = ? AND period_end = ?", period.PeriodStart, period.PeriodEnd).
		First(&current).Error
	if err != nil {
		return nil, err
	}
	return &current, nil
}

func (r *repo) ApplyUsage(ctx context.Context, db *gorm.DB, periodID snowflake.ID, providerCost, accountCost decimal.Decimal, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE budget_periods
		 SET consumed = consumed + ?,
		     remaining = remaining - ?,
		     updated_at = ?
		 WHERE id = ?`,
		providerCost,
		accountCost,
		at,
		periodID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) AddAllocation(ctx context.Context, db *gorm.DB, periodID snowflake.ID, amount decimal.Decimal, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE budget_periods
		 SET allocated = allocated + ?,
		     remaining = remaining + ?,
		     updated_at = ?
		 WHERE id = ?`,
		amount,
		amount,
		at,
		periodID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) ResetPeriod(ctx context.Context, db *gorm.DB, periodID snowflake.ID, allocated decimal.Decimal, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE budget_periods
		 SET allocated = ?,
		     consumed = 0,
		     remaining = ?,
		     updated_at = ?
		 WHERE id = ?`,
		allocated,
		allocated,
		at,
		periodID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) InsertUsageEvent(ctx context.Context, db *gorm.DB, event *budgetdomain.UsageEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) UsageSince(ctx context.Context, db *gorm.DB, userID string, cutoff time.Time) ([]budgetdomain.UsageEvent, error) {
	var events []budgetdomain.UsageEvent
	err := db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, cutoff).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return events, nil
}
