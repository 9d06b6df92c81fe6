package compliance

import (
	"github.com/smallbiznis/fakturo/internal/compliance/format"
	"github.com/smallbiznis/fakturo/internal/compliance/providers"
	"github.com/smallbiznis/fakturo/internal/compliance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance",
	fx.Provide(
		format.New,
		providers.NewDefaultRegistry,
		providers.FromConfig,
		service.New,
	),
)
