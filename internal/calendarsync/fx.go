package calendarsync

import (
	"github.com/smallbiznis/dealcadence/internal/calendarsync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("calendarsync.service",
	fx.Provide(service.New),
)
