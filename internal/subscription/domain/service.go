package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Current resolves the subscription that governs the user's AI access.
	Current(ctx context.Context, userID string) (Subscription, error)

	// Invalidate drops any cached view of the user's subscription.
	Invalidate(userID string)
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
