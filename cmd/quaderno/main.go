package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/quadernolabs/quaderno/internal/budget"
	"github.com/quadernolabs/quaderno/internal/clock"
	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/currency"
	"github.com/quadernolabs/quaderno/internal/migration"
	"github.com/quadernolabs/quaderno/internal/observability"
	"github.com/quadernolabs/quaderno/internal/pricing"
	"github.com/quadernolabs/quaderno/internal/ratelimit"
	"github.com/quadernolabs/quaderno/internal/retrieval"
	"github.com/quadernolabs/quaderno/internal/scheduler"
	"github.com/quadernolabs/quaderno/internal/search"
	"github.com/quadernolabs/quaderno/internal/server"
	"github.com/quadernolabs/quaderno/internal/subscription"
	"github.com/quadernolabs/quaderno/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Governance domains
		subscription.Module,
		pricing.Module,
		currency.Module,
		budget.Module,
		search.Module,
		retrieval.Module,
		ratelimit.Module,

		// Surfaces
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
