package oauthmeta

import (
	"go.uber.org/fx"
)

// Module wires the OAuth discovery document routes.
var Module = fx.Module("oauthmeta",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
