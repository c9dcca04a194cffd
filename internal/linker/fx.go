package linker

import (
	"github.com/smallbiznis/swimreg/internal/linker/repository"
	"github.com/smallbiznis/swimreg/internal/linker/service"
	"go.uber.org/fx"
)

var Module = fx.Module("linker.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
