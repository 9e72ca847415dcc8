package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	"github.com/quadernolabs/quaderno/internal/cache"
	"github.com/quadernolabs/quaderno/internal/clock"
	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/currency"
	"github.com/quadernolabs/quaderno/internal/money"
	"github.com/quadernolabs/quaderno/internal/observability/metrics"
	"github.com/quadernolabs/quaderno/internal/pricing"
	subscriptiondomain "github.com/quadernolabs/quaderno/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	retryBackoff = 100 * time.Millisecond
	snapshotTTL  = 15 * time.Second

	defaultStatsWindow = 30 * 24 * time.Hour
)

// ComputeMonthlyBudget derives the period allocation from the
// subscription price: trials get the fixed trial budget, paid plans a
// fixed share of the monthly price. Never negative.
func ComputeMonthlyBudget(price decimal.Decimal, isTrial bool, policy config.GovernancePolicy) decimal.Decimal {
	if isTrial {
		return money.Account(decimal.NewFromFloat(policy.TrialBudget))
	}
	if price.IsNegative() {
		return decimal.Zero
	}
	return money.Account(price.Mul(decimal.NewFromFloat(policy.AllocationRatio)))
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	policy  *config.PolicyHolder
	repo    budgetdomain.Repository
	subs    subscriptiondomain.Service
	pricing *pricing.Table
	conv    *currency.Converter
	metrics *metrics.Metrics

	snapshots cache.Cache[string, budgetdomain.BalanceSnapshot]
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Policy  *config.PolicyHolder
	Repo    budgetdomain.Repository
	Subs    subscriptiondomain.Service
	Pricing *pricing.Table
	Conv    *currency.Converter
	Metrics *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) budgetdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("budget.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		policy:  p.Policy,
		repo:    p.Repo,
		subs:    p.Subs,
		pricing: p.Pricing,
		conv:    p.Conv,
		metrics: p.Metrics,

		snapshots: cache.NewTTLCache[string, budgetdomain.BalanceSnapshot](),
	}
}

// activeSubscription resolves the subscription that currently grants AI
// access, or ErrSubscriptionInactive when none does.
func (s *Service) activeSubscription(ctx context.Context, userID string) (subscriptiondomain.Subscription, error) {
	sub, err := s.subs.Current(ctx, userID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return subscriptiondomain.Subscription{}, budgetdomain.ErrSubscriptionInactive
		}
		return subscriptiondomain.Subscription{}, fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}

	now := s.clock.Now()
	if sub.IsTrial {
		if sub.Status == subscriptiondomain.StatusCanceled {
			return subscriptiondomain.Subscription{}, budgetdomain.ErrSubscriptionInactive
		}
		_, end := sub.EffectiveWindow(now, s.trialWindow())
		if !now.Before(end) {
			return subscriptiondomain.Subscription{}, budgetdomain.ErrSubscriptionInactive
		}
		return sub, nil
	}

	if sub.Status != subscriptiondomain.StatusActive {
		return subscriptiondomain.Subscription{}, budgetdomain.ErrSubscriptionInactive
	}
	return sub, nil
}

// EnsureCurrentPeriod implements domain.Service.
func (s *Service) EnsureCurrentPeriod(ctx context.Context, userID string) (*budgetdomain.BudgetPeriod, error) {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start, end := sub.EffectiveWindow(now, s.trialWindow())

	var period *budgetdomain.BudgetPeriod
	err = s.withRetry(ctx, func() error {
		row, err := s.repo.FindCurrent(ctx, s.db, userID, sub.ID, now)
		if err == nil {
			period = row
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		allocated := ComputeMonthlyBudget(sub.Price, sub.IsTrial, s.policy.Get())
		row, err = s.repo.CreateIfAbsent(ctx, s.db, &budgetdomain.BudgetPeriod{
			ID:             s.genID.Generate(),
			UserID:         userID,
			SubscriptionID: sub.ID,
			PeriodStart:    start,
			PeriodEnd:      end,
			Allocated:      allocated,
			Consumed:       decimal.Zero,
			Remaining:      allocated,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		period = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}
	return period, nil
}

// CheckAvailability implements domain.Service. A storage failure denies
// access: the gate never opens on uncertainty.
func (s *Service) CheckAvailability(ctx context.Context, userID string) (bool, error) {
	period, err := s.EnsureCurrentPeriod(ctx, userID)
	if err != nil {
		s.metrics.IncBudgetCheck(ctx, false)
		if errors.Is(err, budgetdomain.ErrSubscriptionInactive) {
			return false, budgetdomain.ErrSubscriptionInactive
		}
		return false, err
	}

	ok := period.Remaining.GreaterThan(s.epsilon())
	s.metrics.IncBudgetCheck(ctx, ok)
	if !ok {
		return false, nil
	}
	return true, nil
}

// RecordUsage implements domain.Service. The interaction already
// happened, so nothing here may fail the caller: every storage step is
// retried once and terminal failures are logged and counted.
func (s *Service) RecordUsage(ctx context.Context, userID string, report budgetdomain.UsageReport) {
	log := s.log.With(
		zap.String("user_id", userID),
		zap.String("feature", string(report.Feature)),
	)

	model := report.Model
	if model == "" {
		model = s.policy.Get().DefaultModel
	}

	cost, err := s.pricing.Cost(model, report.InputTokens, report.OutputTokens, report.CachedTokens)
	if err != nil {
		log.Warn("usage report rejected", zap.Error(err))
		s.metrics.IncUsageRecordError(ctx)
		return
	}

	accountCost, err := s.conv.ToAccount(ctx, cost.Total)
	if err != nil {
		log.Error("usage conversion failed", zap.Error(err))
		s.metrics.IncUsageRecordError(ctx)
		return
	}

	period, err := s.EnsureCurrentPeriod(ctx, userID)
	if err != nil {
		if errors.Is(err, budgetdomain.ErrSubscriptionInactive) {
			log.Warn("usage for inactive subscription dropped",
				zap.String("cost", cost.Total.String()))
		} else {
			log.Error("usage period resolution failed", zap.Error(err))
		}
		s.metrics.IncUsageRecordError(ctx)
		return
	}

	now := s.clock.Now()
	err = s.withRetry(ctx, func() error {
		return s.repo.ApplyUsage(ctx, s.db, period.ID, cost.Total, accountCost, now)
	})
	if err != nil {
		log.Error("usage charge lost", zap.Error(err),
			zap.String("cost", cost.Total.String()))
		s.metrics.IncUsageRecordError(ctx)
		return
	}

	event := &budgetdomain.UsageEvent{
		ID:             s.genID.Generate(),
		UserID:         userID,
		SubscriptionID: period.SubscriptionID,
		BudgetPeriodID: period.ID,
		Feature:        report.Feature,
		Model:          model,
		InputTokens:    report.InputTokens,
		OutputTokens:   report.OutputTokens,
		CachedTokens:   report.CachedTokens,
		InputCost:      cost.Input,
		OutputCost:     cost.Output,
		TotalCost:      cost.Total,
		Metadata:       datatypes.JSONMap(report.Metadata),
		CreatedAt:      now,
	}
	if err := s.withRetry(ctx, func() error {
		return s.repo.InsertUsageEvent(ctx, s.db, event)
	}); err != nil {
		// The ledger charge landed; only the audit row is missing.
		log.Warn("usage audit event lost", zap.Error(err))
	}

	s.snapshots.Delete(userID)
	s.metrics.IncUsageRecord(ctx, string(report.Feature))
}

// AddMidPeriodTopUp implements domain.Service.
func (s *Service) AddMidPeriodTopUp(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", budgetdomain.ErrInvalidTopUp, amount)
	}
	amount = money.Account(amount)

	period, err := s.EnsureCurrentPeriod(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.withRetry(ctx, func() error {
		return s.repo.AddAllocation(ctx, s.db, period.ID, amount, s.clock.Now())
	}); err != nil {
		return fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}

	s.snapshots.Delete(userID)
	s.log.Info("mid-period top-up applied",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
	)
	return nil
}

// GetBalanceSnapshot implements domain.Service. The trial wall-clock
// check comes before any balance arithmetic: an expired trial with
// leftover budget is still denied.
func (s *Service) GetBalanceSnapshot(ctx context.Context, userID string) (budgetdomain.BalanceSnapshot, error) {
	if snap, ok := s.snapshots.Get(userID); ok {
		return snap, nil
	}

	sub, err := s.subs.Current(ctx, userID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return budgetdomain.BalanceSnapshot{Reason: budgetdomain.ReasonNoSubscription}, nil
		}
		return budgetdomain.BalanceSnapshot{}, fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}

	policy := s.policy.Get()
	now := s.clock.Now()

	if sub.IsTrial {
		if sub.Status == subscriptiondomain.StatusCanceled {
			return budgetdomain.BalanceSnapshot{IsTrial: true, Reason: budgetdomain.ReasonInactive}, nil
		}
		if _, end := sub.EffectiveWindow(now, s.trialWindow()); !now.Before(end) {
			return budgetdomain.BalanceSnapshot{IsTrial: true, Reason: budgetdomain.ReasonTrialExpired}, nil
		}
	} else if sub.Status != subscriptiondomain.StatusActive {
		return budgetdomain.BalanceSnapshot{Reason: budgetdomain.ReasonInactive}, nil
	}

	period, err := s.EnsureCurrentPeriod(ctx, userID)
	if err != nil {
		return budgetdomain.BalanceSnapshot{}, err
	}

	consumed, err := s.conv.ToAccount(ctx, period.Consumed)
	if err != nil {
		return budgetdomain.BalanceSnapshot{}, fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}

	snap := budgetdomain.BalanceSnapshot{
		IsTrial:          sub.IsTrial,
		Allocated:        period.Allocated,
		Consumed:         consumed,
		ConsumedProvider: period.Consumed,
		Remaining:        period.Remaining,
		PeriodStart:      period.PeriodStart,
		PeriodEnd:        period.PeriodEnd,
	}
	snap.HasAccess = period.Remaining.GreaterThan(s.epsilon())
	if !snap.HasAccess {
		snap.Reason = budgetdomain.ReasonExhausted
	}
	if avg := decimal.NewFromFloat(policy.AvgCostPerInteraction); avg.IsPositive() && snap.HasAccess {
		snap.EstimatedInteractions = period.Remaining.Div(avg).IntPart()
	}

	s.snapshots.Set(userID, snap, snapshotTTL)
	return snap, nil
}

// ResetCurrentPeriod implements domain.Service.
func (s *Service) ResetCurrentPeriod(ctx context.Context, userID string) error {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return err
	}

	period, err := s.EnsureCurrentPeriod(ctx, userID)
	if err != nil {
		return err
	}

	allocated := ComputeMonthlyBudget(sub.Price, sub.IsTrial, s.policy.Get())
	if err := s.withRetry(ctx, func() error {
		return s.repo.ResetPeriod(ctx, s.db, period.ID, allocated, s.clock.Now())
	}); err != nil {
		return fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}

	s.snapshots.Delete(userID)
	return nil
}

// UsageStats implements domain.Service.
func (s *Service) UsageStats(ctx context.Context, userID string, window time.Duration) (budgetdomain.UsageStats, error) {
	if window <= 0 {
		window = defaultStatsWindow
	}
	cutoff := s.clock.Now().Add(-window)

	events, err := s.repo.UsageSince(ctx, s.db, userID, cutoff)
	if err != nil {
		return budgetdomain.UsageStats{}, fmt.Errorf("%w: %v", budgetdomain.ErrLedgerStorage, err)
	}

	stats := budgetdomain.UsageStats{
		TotalCost: decimal.Zero,
		ByFeature: make(map[budgetdomain.Feature]int64),
	}
	for _, ev := range events {
		stats.Events++
		stats.InputTokens += ev.InputTokens
		stats.OutputTokens += ev.OutputTokens
		stats.TotalCost = stats.TotalCost.Add(ev.TotalCost)
		stats.ByFeature[ev.Feature]++
	}
	return stats, nil
}

// withRetry runs op and, on a storage failure, retries exactly once
// after a short backoff.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}
	return op()
}

func (s *Service) epsilon() decimal.Decimal {
	return decimal.NewFromFloat(s.policy.Get().BalanceEpsilon)
}

func (s *Service) trialWindow() time.Duration {
	return time.Duration(s.policy.Get().TrialWindowDays) * 24 * time.Hour
}
