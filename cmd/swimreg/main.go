package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/smallbiznis/swimreg/internal/migration"
	"github.com/smallbiznis/swimreg/internal/observability"
	"github.com/smallbiznis/swimreg/internal/scheduler"
	"github.com/smallbiznis/swimreg/internal/server"
	"github.com/smallbiznis/swimreg/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// server.Module pulls in every domain module it serves.
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
