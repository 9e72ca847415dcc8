package migration

import (
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	subscriptiondomain "github.com/quadernolabs/quaderno/internal/subscription/domain"
)

// Models lists every persisted type, for AutoMigrate-based setups.
func Models() []any {
	return []any{
		&subscriptiondomain.Subscription{},
		&budgetdomain.BudgetPeriod{},
		&budgetdomain.UsageEvent{},
	}
}
