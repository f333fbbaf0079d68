package cbctask

import (
	"github.com/smallbiznis/dealcadence/internal/cbctask/repository"
	"github.com/smallbiznis/dealcadence/internal/cbctask/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cbctask.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
