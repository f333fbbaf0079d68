package meeting

import (
	"github.com/smallbiznis/dealcadence/internal/meeting/repository"
	"github.com/smallbiznis/dealcadence/internal/meeting/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meeting.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewSources),
	fx.Provide(service.NewCollector),
	fx.Provide(service.NewIngestor),
)
