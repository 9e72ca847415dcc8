package subscription

import (
	"github.com/quadernolabs/quaderno/internal/subscription/repository"
	"github.com/quadernolabs/quaderno/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
