// Package scheduler runs the background maintenance loop: exchange-rate
// refresh and budget-period rollover, so the lazy per-request rollover
// path is a fallback rather than the only path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	"github.com/quadernolabs/quaderno/internal/clock"
	"github.com/quadernolabs/quaderno/internal/currency"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	BudgetSvc budgetdomain.Service
	Rates     *currency.HTTPSource `optional:"true"`
	Config    Config               `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	budgetSvc budgetdomain.Service
	rates     *currency.HTTPSource

	lastRateRefresh time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.BudgetSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler"),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		budgetSvc: p.BudgetSvc,
		rates:     p.Rates,
	}, nil
}

// runJob wraps a job with a timeout and panic recovery so one bad run
// never takes down the loop.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler job panicked",
				zap.String("job", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("scheduler job %s panicked: %v", name, r)
		}
	}()

	err = fn(ctx)
	if err != nil {
		s.log.Warn("scheduler job failed",
			zap.String("job", name),
			zap.Duration("took", s.clock.Now().Sub(start)),
			zap.Error(err),
		)
		return err
	}
	s.log.Debug("scheduler job finished",
		zap.String("job", name),
		zap.Duration("took", s.clock.Now().Sub(start)),
	)
	return nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var runErr error

	if s.rates != nil {
		now := s.clock.Now()
		if s.lastRateRefresh.IsZero() || now.Sub(s.lastRateRefresh) >= s.cfg.RateRefreshInterval {
			if err := s.runJob(parent, "rate_refresh", s.RateRefreshJob); err != nil {
				runErr = errors.Join(runErr, err)
			} else {
				s.lastRateRefresh = now
			}
		}
	}

	if err := s.runJob(parent, "budget_rollover", s.BudgetRolloverJob); err != nil {
		runErr = errors.Join(runErr, err)
	}

	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RateRefreshJob(ctx context.Context) error {
	return s.rates.Refresh(ctx)
}

// BudgetRolloverJob proactively opens the next budget period for users
// whose latest row has expired. Missing a user here is harmless: the
// next availability check rolls them over lazily.
func (s *Scheduler) BudgetRolloverJob(ctx context.Context) error {
	now := s.clock.Now()

	var userIDs []string
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT bp.user_id
		 FROM budget_periods bp
		 WHERE bp.period_end <= ?
		   AND NOT EXISTS (
		     SELECT 1 FROM budget_periods b2
		     WHERE b2.user_id = bp.user_id AND b2.period_end > ?
		   )
		 LIMIT ?`,
		now,
		now,
		s.cfg.RolloverBatchSize,
	).Scan(&userIDs).Error
	if err != nil {
		return err
	}

	var jobErr error
	for _, userID := range userIDs {
		if _, err := s.budgetSvc.EnsureCurrentPeriod(ctx, userID); err != nil {
			if errors.Is(err, budgetdomain.ErrSubscriptionInactive) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}
