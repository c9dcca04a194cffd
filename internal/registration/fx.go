package registration

import (
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"github.com/smallbiznis/swimreg/internal/registration/repository"
	"github.com/smallbiznis/swimreg/internal/registration/resolver"
	"github.com/smallbiznis/swimreg/internal/registration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registration.service",
	fx.Provide(repository.Provide),
	fx.Provide(fx.Annotate(resolver.New, fx.As(new(ledgerdomain.SwimmerApprover)))),
	fx.Provide(service.NewService),
)
