package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/migration"
	"github.com/smallbiznis/fakturo/internal/observability"
	"github.com/smallbiznis/fakturo/internal/server"
	"github.com/smallbiznis/fakturo/pkg/db"
	"github.com/smallbiznis/fakturo/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
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
