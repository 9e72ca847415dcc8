// Package server exposes the governance core over HTTP: budget
// snapshots, usage reports, top-ups and balanced retrieval.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/observability"
	obslogger "github.com/quadernolabs/quaderno/internal/observability/logger"
	obstracing "github.com/quadernolabs/quaderno/internal/observability/tracing"
	"github.com/quadernolabs/quaderno/internal/ratelimit"
	retrievaldomain "github.com/quadernolabs/quaderno/internal/retrieval/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	budgetSvc    budgetdomain.Service
	retrievalSvc retrievaldomain.Service
	limiter      *ratelimit.AIAdmissionLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Log          *zap.Logger
	BudgetSvc    budgetdomain.Service
	RetrievalSvc retrievaldomain.Service
	Limiter      *ratelimit.AIAdmissionLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		log:          p.Log.Named("http.server"),
		budgetSvc:    p.BudgetSvc,
		retrievalSvc: p.RetrievalSvc,
		limiter:      p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1/ai", s.requireUser())

	v1.GET("/budget", s.getBalanceSnapshot)
	v1.GET("/usage/stats", s.getUsageStats)

	limited := v1.Group("", s.rateLimit())
	limited.POST("/admission", s.postAdmission)
	limited.POST("/retrieve", s.postRetrieve)

	v1.POST("/usage", s.postUsage)
	v1.POST("/budget/topup", s.postTopUp)
	v1.POST("/budget/reset", s.postReset)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
