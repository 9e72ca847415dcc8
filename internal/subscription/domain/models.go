// Package domain contains the read model for subscriptions owned by the
// billing subsystem. The governance core reads price, trial flag, period
// bounds and status; it never writes these rows.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Subscription captures a user's billing agreement.
type Subscription struct {
	ID                 snowflake.ID    `gorm:"primaryKey"`
	UserID             string          `gorm:"type:text;not null;index"`
	Status             Status          `gorm:"type:text;not null"`
	Price              decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	IsTrial            bool            `gorm:"not null;default:false"`
	TrialStartAt       *time.Time      `gorm:""`
	CurrentPeriodStart *time.Time      `gorm:""`
	CurrentPeriodEnd   *time.Time      `gorm:""`
	CancelAtPeriodEnd  bool            `gorm:"not null;default:false"`
	CreatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// TrialStart resolves the trial anchor, falling back to row creation.
func (s Subscription) TrialStart() time.Time {
	if s.TrialStartAt != nil {
		return *s.TrialStartAt
	}
	return s.CreatedAt
}

// EffectiveWindow resolves the budget-period bounds at the given instant.
// Trials run a fixed window anchored at the trial start. Paid plans use
// the billing-cycle bounds when they cover "now"; otherwise the calendar
// month is the fallback so a stale cycle never blocks a ledger period.
func (s Subscription) EffectiveWindow(now time.Time, trialWindow time.Duration) (time.Time, time.Time) {
	if s.IsTrial {
		start := s.TrialStart().UTC()
		return start, start.Add(trialWindow)
	}

	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil &&
		!s.CurrentPeriodStart.After(now) && s.CurrentPeriodEnd.After(now) {
		return s.CurrentPeriodStart.UTC(), s.CurrentPeriodEnd.UTC()
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
