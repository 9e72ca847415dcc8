package retrieval

import (
	"github.com/quadernolabs/quaderno/internal/retrieval/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retrieval.service",
	fx.Provide(service.NewService),
)
