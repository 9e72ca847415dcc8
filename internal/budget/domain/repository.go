package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	// FindCurrent returns the period row covering "at", or
	// gorm.ErrRecordNotFound.
	FindCurrent(ctx context.Context, db *gorm.DB, userID string, subscriptionID snowflake.ID, at time.Time) (*BudgetPeriod, error)

	// CreateIfAbsent inserts the period unless a row with the same
	// window already exists, then re-reads the surviving row. Losing a
	// concurrent race is not an error.
	CreateIfAbsent(ctx context.Context, db *gorm.DB, period *BudgetPeriod) (*BudgetPeriod, error)

	// ApplyUsage posts a charge in a single statement so concurrent
	// writers never lose an increment. providerCost raises Consumed,
	// accountCost lowers Remaining.
	ApplyUsage(ctx context.Context, db *gorm.DB, periodID snowflake.ID, providerCost, accountCost decimal.Decimal, at time.Time) error

	// AddAllocation raises Allocated and Remaining by the same amount.
	AddAllocation(ctx context.Context, db *gorm.DB, periodID snowflake.ID, amount decimal.Decimal, at time.Time) error

	// ResetPeriod zeroes Consumed and restores Allocated and Remaining
	// to the given allocation.
	ResetPeriod(ctx context.Context, db *gorm.DB, periodID snowflake.ID, allocated decimal.Decimal, at time.Time) error

	InsertUsageEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) error

	// UsageSince returns audit events recorded at or after the cutoff.
	UsageSince(ctx context.Context, db *gorm.DB, userID string, cutoff time.Time) ([]UsageEvent, error)
}
