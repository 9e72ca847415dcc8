package repository

import (
	"context"
	"errors"

	subscriptiondomain "github.com/quadernolabs/quaderno/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("NOT (is_trial AND status = ?)", subscriptiondomain.StatusCanceled).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}
