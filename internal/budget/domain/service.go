package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Feature tags a usage event with the surface that produced it.
type Feature string

const (
	FeatureDocumentChat  Feature = "document_chat"
	FeatureSubjectChat   Feature = "subject_chat"
	FeatureDashboardChat Feature = "dashboard_chat"
)

// UsageReport describes one completed AI interaction to be charged
// against the caller's current period.
type UsageReport struct {
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	CachedTokens int64          `json:"cached_tokens"`
	Feature      Feature        `json:"feature"`
	Model        string         `json:"model,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BalanceSnapshot is the read model for "can this user talk to the AI
// and how much is left".
type BalanceSnapshot struct {
	HasAccess             bool            `json:"has_access"`
	Reason                string          `json:"reason,omitempty"`
	IsTrial               bool            `json:"is_trial"`
	Allocated             decimal.Decimal `json:"allocated"`
	Consumed              decimal.Decimal `json:"consumed"`
	ConsumedProvider      decimal.Decimal `json:"consumed_provider"`
	Remaining             decimal.Decimal `json:"remaining"`
	EstimatedInteractions int64           `json:"estimated_interactions"`
	PeriodStart           time.Time       `json:"period_start,omitempty"`
	PeriodEnd             time.Time       `json:"period_end,omitempty"`
}

const (
	ReasonNoSubscription = "no_subscription"
	ReasonInactive       = "subscription_inactive"
	ReasonTrialExpired   = "trial_expired"
	ReasonExhausted      = "budget_exhausted"
)

// UsageStats aggregates the audit trail over a trailing window.
type UsageStats struct {
	Events       int64           `json:"events"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalCost    decimal.Decimal `json:"total_cost"`

	ByFeature map[Feature]int64 `json:"by_feature"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// EnsureCurrentPeriod opens the ledger row covering "now", creating
	// it with a fresh allocation when absent. Safe under concurrency.
	EnsureCurrentPeriod(ctx context.Context, userID string) (*BudgetPeriod, error)

	// CheckAvailability reports whether the user may start an AI
	// interaction. Storage failures surface as errors so callers deny.
	CheckAvailability(ctx context.Context, userID string) (bool, error)

	// RecordUsage charges a completed interaction against the current
	// period. It never fails the caller: the response the user already
	// received cannot be taken back, so persistence errors are retried
	// once and then logged.
	RecordUsage(ctx context.Context, userID string, report UsageReport)

	// AddMidPeriodTopUp raises the current period's allocation.
	AddMidPeriodTopUp(ctx context.Context, userID string, amount decimal.Decimal) error

	// GetBalanceSnapshot returns the access decision plus balances.
	GetBalanceSnapshot(ctx context.Context, userID string) (BalanceSnapshot, error)

	// ResetCurrentPeriod zeroes consumption and restores the allocation
	// derived from the current subscription price.
	ResetCurrentPeriod(ctx context.Context, userID string) error

	// UsageStats aggregates the audit trail over the trailing window.
	UsageStats(ctx context.Context, userID string, window time.Duration) (UsageStats, error)
}

var (
	ErrBudgetExhausted       = errors.New("budget_exhausted")
	ErrSubscriptionInactive  = errors.New("subscription_inactive")
	ErrLedgerStorage         = errors.New("ledger_storage_error")
	ErrInvalidTopUp          = errors.New("invalid_topup_amount")
)
