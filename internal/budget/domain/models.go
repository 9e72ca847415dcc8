// Package domain defines the per-user AI budget ledger: one row per
// user per billing period, plus an append-only usage audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BudgetPeriod is the ledger row for one user and one billing period.
// Consumed is tracked in the provider currency at provider scale;
// Allocated and Remaining are kept in the account currency at account
// scale. The uniqueness of (user, subscription, window) is what makes
// concurrent period creation collapse to a single row.
type BudgetPeriod struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	UserID         string          `gorm:"type:text;not null;index;uniqueIndex:ux_budget_periods_window,priority:1"`
	SubscriptionID snowflake.ID    `gorm:"not null;uniqueIndex:ux_budget_periods_window,priority:2"`
	PeriodStart    time.Time       `gorm:"not null;uniqueIndex:ux_budget_periods_window,priority:3"`
	PeriodEnd      time.Time       `gorm:"not null;uniqueIndex:ux_budget_periods_window,priority:4"`
	Allocated      decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	Consumed       decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	Remaining      decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BudgetPeriod) TableName() string { return "budget_periods" }

// UsageEvent is one priced AI interaction, kept for audit and stats.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         string            `gorm:"type:text;not null;index"`
	SubscriptionID snowflake.ID      `gorm:"not null"`
	BudgetPeriodID snowflake.ID      `gorm:"not null;index"`
	Feature        Feature           `gorm:"type:text;not null"`
	Model          string            `gorm:"type:text;not null"`
	InputTokens    int64             `gorm:"not null"`
	OutputTokens   int64             `gorm:"not null"`
	CachedTokens   int64             `gorm:"not null"`
	InputCost      decimal.Decimal   `gorm:"type:numeric(18,6);not null"`
	OutputCost     decimal.Decimal   `gorm:"type:numeric(18,6);not null"`
	TotalCost      decimal.Decimal   `gorm:"type:numeric(18,6);not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "ai_usage_events" }
