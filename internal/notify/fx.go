package notify

import (
	"context"

	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/smallbiznis/swimreg/internal/providers/email"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
	Email     email.Provider `optional:"true"`
}

// New assembles the configured notifiers. It returns nil when nothing is
// configured, which leaves receipt events pending in the outbox.
func New(p Params) (receiptdomain.Notifier, error) {
	log := p.Log.Named("notify")
	var notifiers Multi

	if p.Cfg.AMQP.URL != "" {
		publisher, err := DialPublisher(p.Cfg.AMQP.URL, p.Cfg.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error { return publisher.Close() },
		})
		notifiers = append(notifiers, publisher)
		log.Info("receipt notifications published", zap.String("exchange", p.Cfg.AMQP.Exchange))
	}

	if p.Email != nil {
		notifiers = append(notifiers, NewEmailNotifier(p.Email, p.Cfg.PublicBaseURL))
		log.Info("receipt notifications emailed")
	}

	if len(notifiers) == 0 {
		log.Warn("no receipt notifier configured")
		return nil, nil
	}
	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return notifiers, nil
}
