package budget

import (
	"github.com/quadernolabs/quaderno/internal/budget/repository"
	"github.com/quadernolabs/quaderno/internal/budget/service"
	"go.uber.org/fx"
)

var Module = fx.Module("budget.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
