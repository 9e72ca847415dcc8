package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// FindCurrentByUserID returns the user's governing subscription: the
	// most recently updated row that is not a canceled trial. Canceled
	// paid plans are still returned so callers can distinguish "canceled"
	// from "never subscribed".
	FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
}
