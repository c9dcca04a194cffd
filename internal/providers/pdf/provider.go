package pdf

import (
	"context"

	"go.uber.org/fx"
)

// Provider renders receipt documents.
type Provider interface {
	GenerateReceipt(ctx context.Context, doc ReceiptDocument) ([]byte, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}
