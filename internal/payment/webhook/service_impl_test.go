package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	auditrepo "github.com/smallbiznis/swimreg/internal/audit/repository"
	auditservice "github.com/smallbiznis/swimreg/internal/audit/service"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/internal/payment/domain/mock"
	paymentrepo "github.com/smallbiznis/swimreg/internal/payment/repository"
	"github.com/smallbiznis/swimreg/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeLedger struct {
	ledgerdomain.Service
	calls int
	keys  []string
	err   error
}

func (f *fakeLedger) Reconcile(_ context.Context, key string, _ paymentdomain.Outcome) (*ledgerdomain.ReconcileResult, error) {
	f.calls++
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return &ledgerdomain.ReconcileResult{Reference: key, PaymentStatus: ledgerdomain.PaymentStatusCompleted}, nil
}

type ackingAdapter struct {
	*mock.MockAdapter
}

func (ackingAdapter) Ack() any {
	return map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}
}

type env struct {
	db      *gorm.DB
	adapter *mock.MockAdapter
	ledger  *fakeLedger
	svc     paymentdomain.WebhookService
}

func newEnv(t *testing.T, provider string) *env {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))

	ctrl := gomock.NewController(t)
	adapter := mock.NewMockAdapter(ctrl)
	adapter.EXPECT().Provider().Return(provider).AnyTimes()
	registry := adapters.NewRegistry()
	if provider == paymentdomain.ProviderMpesa {
		registry.Use(ackingAdapter{adapter})
	} else {
		registry.Use(adapter)
	}

	ledger := &fakeLedger{}
	svc := webhook.NewService(webhook.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     paymentrepo.Provide(),
		Adapters: registry,
		Ledger:   ledger,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Repo:  auditrepo.Provide(),
			Clock: fc,
		}),
		Clock: fc,
	})
	return &env{db: db, adapter: adapter, ledger: ledger, svc: svc}
}

func notification(body string) paymentdomain.Notification {
	return paymentdomain.Notification{Payload: []byte(body)}
}

func chargeSuccess(reference string) *paymentdomain.Outcome {
	return &paymentdomain.Outcome{
		Provider:   paymentdomain.ProviderPaystack,
		Reference:  reference,
		EventType:  "charge.success",
		Succeeded:  true,
		AmountPaid: 700000,
		Currency:   "KES",
	}
}

func TestIngestReconcilesOnceForRepeatedDelivery(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	n := notification(`{"event":"charge.success","data":{"reference":"REG-1"}}`)

	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	e.adapter.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(chargeSuccess("REG-1"), nil).Times(1)

	first, err := e.svc.Ingest(context.Background(), "Paystack", n)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeReconciled, first.Outcome)
	assert.False(t, first.Duplicate)
	assert.Nil(t, first.Ack)

	second, err := e.svc.Ingest(context.Background(), "paystack", n)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, webhook.OutcomeAlreadyProcessed, second.Outcome)

	assert.Equal(t, 1, e.ledger.calls)
	assert.Equal(t, []string{"REG-1"}, e.ledger.keys)
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "payment_events", "processed_at IS NOT NULL AND event_type = ? AND reference = ?", "charge.success", "REG-1"))
}

func TestIngestRejectsBadSignature(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(paymentdomain.ErrInvalidSignature)

	_, err := e.svc.Ingest(context.Background(), "paystack", notification(`{}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Zero(t, dbtest.Count(t, e.db, "payment_events", ""))
}

func TestIngestUnknownProvider(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	_, err := e.svc.Ingest(context.Background(), "stripe", notification(`{}`))
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestIngestIgnoredEventIsAcknowledged(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil)
	e.adapter.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(nil, paymentdomain.ErrEventIgnored)

	result, err := e.svc.Ingest(context.Background(), "paystack", notification(`{"event":"transfer.success"}`))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeIgnored, result.Outcome)
	assert.Zero(t, e.ledger.calls)
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "payment_events", "event_type = ?", "ignored"))
}

func TestIngestMalformedIsAuditedAndAcknowledged(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderMpesa)
	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil)
	e.adapter.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("%w: missing CheckoutRequestID", paymentdomain.ErrMalformedNotification))

	result, err := e.svc.Ingest(context.Background(), "mpesa", notification(`{"Body":{}}`))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeMalformed, result.Outcome)
	assert.Equal(t, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}, result.Ack)
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "audit_logs", "action = ?", "webhook.malformed"))
}

func TestIngestUnknownReferenceIsAudited(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	e.ledger.err = ledgerdomain.ErrPaymentNotFound
	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil)
	e.adapter.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(chargeSuccess("REG-GHOST"), nil)

	result, err := e.svc.Ingest(context.Background(), "paystack", notification(`{"event":"charge.success"}`))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeUnknownReference, result.Outcome)
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "audit_logs", "action = ? AND target_id = ?", "webhook.unknown_reference", "REG-GHOST"))
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "payment_events", "processed_at IS NOT NULL"))
}

func TestIngestAmountMismatchIsAcknowledged(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	e.ledger.err = fmt.Errorf("%w: expected 700000 KES, received 350000 KES", ledgerdomain.ErrAmountMismatch)
	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil)
	e.adapter.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(chargeSuccess("REG-1"), nil)

	result, err := e.svc.Ingest(context.Background(), "paystack", notification(`{"event":"charge.success"}`))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeAmountMismatch, result.Outcome)
}

func TestIngestInfrastructureErrorAllowsRetry(t *testing.T) {
	e := newEnv(t, paymentdomain.ProviderPaystack)
	n := notification(`{"event":"charge.success","data":{"reference":"REG-1"}}`)
	e.ledger.err = errors.New("database is locked")
	e.adapter.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	e.adapter.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(chargeSuccess("REG-1"), nil).Times(2)

	_, err := e.svc.Ingest(context.Background(), "paystack", n)
	require.Error(t, err)
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "payment_events", "processed_at IS NULL"))

	e.ledger.err = nil
	result, err := e.svc.Ingest(context.Background(), "paystack", n)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, webhook.OutcomeReconciled, result.Outcome)
	assert.Equal(t, 2, e.ledger.calls)
	assert.Equal(t, int64(1), dbtest.Count(t, e.db, "payment_events", "processed_at IS NOT NULL"))
}
