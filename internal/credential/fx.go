package credential

import (
	"github.com/smallbiznis/dealcadence/internal/credential/domain"
	"github.com/smallbiznis/dealcadence/internal/credential/repository"
	"github.com/smallbiznis/dealcadence/internal/credential/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credential.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewOAuthRefresher),
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) domain.Provider { return s }),
)
