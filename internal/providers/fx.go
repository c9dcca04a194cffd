package providers

import (
	"github.com/smallbiznis/swimreg/internal/providers/email"
	"github.com/smallbiznis/swimreg/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
