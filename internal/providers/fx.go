package providers

import (
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	"github.com/smallbiznis/dealcadence/internal/providers/googletasks"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(googletasks.New),
	fx.Provide(func(c *googletasks.Client) cbctaskdomain.TaskAPI { return c }),
)
