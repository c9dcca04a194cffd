package receipt

import (
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"github.com/smallbiznis/swimreg/internal/receipt/repository"
	"github.com/smallbiznis/swimreg/internal/receipt/service"
	"go.uber.org/fx"
)

var Module = fx.Module("receipt.service",
	fx.Provide(repository.Provide),
	fx.Provide(fx.Annotate(
		service.NewService,
		fx.As(new(receiptdomain.Service)),
		fx.As(new(ledgerdomain.ReceiptIssuer)),
	)),
)
