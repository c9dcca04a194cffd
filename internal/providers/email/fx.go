package email

import (
	"github.com/smallbiznis/swimreg/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns nil when no SMTP host is configured.
func NewFromConfig(cfg config.Config) Provider {
	if cfg.Email.SMTPHost == "" {
		return nil
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}
