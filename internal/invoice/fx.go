package invoice

import (
	"github.com/smallbiznis/fakturo/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice",
	fx.Provide(
		service.New,
	),
)
