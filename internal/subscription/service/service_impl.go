package service

import (
	"context"
	"time"

	"github.com/quadernolabs/quaderno/internal/cache"
	subscriptiondomain "github.com/quadernolabs/quaderno/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheTTL = 30 * time.Second

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo  subscriptiondomain.Repository
	cache cache.Cache[string, subscriptiondomain.Subscription]
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo subscriptiondomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		repo:  p.Repo,
		cache: cache.NewTTLCache[string, subscriptiondomain.Subscription](),
	}
}

// Current implements domain.Service.
func (s *Service) Current(ctx context.Context, userID string) (subscriptiondomain.Subscription, error) {
	if sub, ok := s.cache.Get(userID); ok {
		return sub, nil
	}

	sub, err := s.repo.FindCurrentByUserID(ctx, s.db, userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.cache.Set(userID, *sub, cacheTTL)
	return *sub, nil
}

// Invalidate implements domain.Service.
func (s *Service) Invalidate(userID string) {
	s.cache.Delete(userID)
}
