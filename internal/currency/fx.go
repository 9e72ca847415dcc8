package currency

import (
	"github.com/quadernolabs/quaderno/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("currency",
	fx.Provide(func(cfg config.Config, policy *config.PolicyHolder, log *zap.Logger) (RateSource, *HTTPSource) {
		if cfg.RatesURL == "" {
			return NewPolicySource(policy), nil
		}
		src := NewHTTPSource(cfg, policy, log)
		return src, src
	}),
	fx.Provide(NewConverter),
)
