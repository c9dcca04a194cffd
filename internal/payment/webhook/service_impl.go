package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/swimreg/internal/audit/domain"
	"github.com/smallbiznis/swimreg/internal/clock"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"github.com/smallbiznis/swimreg/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/swimreg/internal/observability/metrics"
	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Webhook results reported in metrics and WebhookResult.Outcome.
const (
	OutcomeReconciled       = "reconciled"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeIgnored          = "ignored"
	OutcomeMalformed        = "malformed"
	OutcomeUnknownReference = "unknown_reference"
	OutcomeAmountMismatch   = "amount_mismatch"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Ledger     ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	adapters   *adapters.Registry
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		repo:       p.Repo,
		adapters:   p.Adapters,
		ledger:     p.Ledger,
		auditSvc:   p.AuditSvc,
		clock:      c,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest authenticates, records and applies one provider notification.
// Only unknown providers, bad signatures and infrastructure failures are
// returned as errors; business anomalies are acknowledged and audited.
func (s *Service) Ingest(ctx context.Context, provider string, n paymentdomain.Notification) (*paymentdomain.WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(ctx, n); err != nil {
		s.obsMetrics.RecordWebhook(ctx, provider, "", "invalid_signature")
		return nil, err
	}

	result := &paymentdomain.WebhookResult{}
	if ack, ok := adapter.(paymentdomain.Acknowledger); ok {
		result.Ack = ack.Ack()
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	sum := sha256.Sum256(n.Payload)
	eventKey := hex.EncodeToString(sum[:])
	now := s.clock.Now()

	record := &paymentdomain.EventRecord{
		ID:         s.genID.Generate(),
		Provider:   provider,
		EventKey:   eventKey,
		EventType:  "received",
		Payload:    string(n.Payload),
		ReceivedAt: now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, provider, eventKey)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ProcessedAt != nil {
			result.Duplicate = true
			result.Outcome = OutcomeAlreadyProcessed
			s.obsMetrics.RecordWebhook(ctx, provider, existing.EventType, OutcomeAlreadyProcessed)
			log.Debug("duplicate webhook delivery", zap.String("event_key", eventKey))
			return result, nil
		}
		if existing != nil {
			// an earlier delivery failed before finishing; process again
			record = existing
		}
	}

	outcome, err := adapter.Decode(ctx, n)
	switch {
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		result.Outcome = OutcomeIgnored
		return result, s.finish(ctx, record, "ignored", "", OutcomeIgnored)
	case errors.Is(err, paymentdomain.ErrMalformedNotification):
		result.Outcome = OutcomeMalformed
		s.audit(ctx, auditdomain.ActionMalformedWebhook, provider, eventKey, map[string]any{
			"provider":  provider,
			"event_key": eventKey,
		})
		log.Warn("malformed webhook ignored", zap.String("event_key", eventKey))
		return result, s.finish(ctx, record, "malformed", "", OutcomeMalformed)
	case err != nil:
		return nil, err
	}

	key := outcome.LookupKey()
	_, err = s.ledger.Reconcile(ctx, key, *outcome)
	switch {
	case err == nil:
		result.Outcome = OutcomeReconciled
	case errors.Is(err, ledgerdomain.ErrPaymentNotFound), errors.Is(err, ledgerdomain.ErrInvalidReference):
		result.Outcome = OutcomeUnknownReference
		s.audit(ctx, auditdomain.ActionUnknownReference, provider, key, map[string]any{
			"provider":   provider,
			"event_type": outcome.EventType,
			"amount":     outcome.AmountPaid,
		})
		log.Warn("webhook for unknown payment", zap.String("reference", key))
	case errors.Is(err, ledgerdomain.ErrAmountMismatch):
		// already flagged and audited by the ledger
		result.Outcome = OutcomeAmountMismatch
	default:
		return nil, err
	}

	return result, s.finish(ctx, record, outcome.EventType, key, result.Outcome)
}

func (s *Service) finish(ctx context.Context, record *paymentdomain.EventRecord, eventType, reference, outcome string) error {
	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, eventType, reference, s.clock.Now()); err != nil {
		return err
	}
	s.obsMetrics.RecordWebhook(ctx, record.Provider, eventType, outcome)
	return nil
}

func (s *Service) audit(ctx context.Context, action, provider, target string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var targetID *string
	if target != "" {
		targetID = &target
	}
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeProvider), &provider, action, "webhook", targetID, metadata); err != nil {
		s.log.Warn("failed to record webhook anomaly", zap.String("action", action), zap.Error(err))
	}
}
