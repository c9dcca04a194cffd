package payment

import (
	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	"github.com/smallbiznis/swimreg/internal/payment/adapters/mpesa"
	"github.com/smallbiznis/swimreg/internal/payment/adapters/paystack"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/internal/payment/repository"
	"github.com/smallbiznis/swimreg/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(webhook.NewService),
)

// NewRegistry configures every provider whose credentials are present.
// A provider with incomplete credentials is skipped with a warning so the
// other one keeps working.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	log = log.Named("payment.adapters")
	registry := adapters.NewRegistry(
		paystack.NewFactory(),
		mpesa.NewFactory(),
	)

	if cfg.Paystack.SecretKey != "" {
		err := registry.Register(paymentdomain.ProviderPaystack, paymentdomain.AdapterConfig{
			Config: map[string]any{
				"secret_key": cfg.Paystack.SecretKey,
				"base_url":   cfg.Paystack.BaseURL,
			},
		})
		if err != nil {
			log.Warn("paystack adapter not configured", zap.Error(err))
		}
	}

	if cfg.Mpesa.ConsumerKey != "" {
		err := registry.Register(paymentdomain.ProviderMpesa, paymentdomain.AdapterConfig{
			Config: map[string]any{
				"consumer_key":    cfg.Mpesa.ConsumerKey,
				"consumer_secret": cfg.Mpesa.ConsumerSecret,
				"shortcode":       cfg.Mpesa.ShortCode,
				"passkey":         cfg.Mpesa.PassKey,
				"callback_url":    cfg.Mpesa.CallbackURL,
				"callback_token":  cfg.Mpesa.CallbackToken,
				"base_url":        cfg.Mpesa.BaseURL,
				"environment":     cfg.Mpesa.Environment,
			},
		})
		if err != nil {
			log.Warn("mpesa adapter not configured", zap.Error(err))
		}
	}

	log.Info("payment providers ready", zap.Strings("providers", registry.Providers()))
	return registry
}
