package nextcall

import (
	"github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	"github.com/smallbiznis/dealcadence/internal/nextcall/service"
	"go.uber.org/fx"
)

var Module = fx.Module("nextcall.service",
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) domain.Recalculator { return s }),
)
