package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/swimreg/internal/audit/domain"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"github.com/smallbiznis/swimreg/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/swimreg/internal/observability/metrics"
	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       ledgerdomain.Repository
	Adapters   *adapters.Registry
	Approver   ledgerdomain.SwimmerApprover
	Receipts   ledgerdomain.ReceiptIssuer
	Policy     *config.RegistrationPolicyHolder `optional:"true"`
	AuditSvc   auditdomain.Service              `optional:"true"`
	Clock      clock.Clock                      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics              `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        ledgerdomain.Repository
	adapters    *adapters.Registry
	approver    ledgerdomain.SwimmerApprover
	receipts    ledgerdomain.ReceiptIssuer
	policy      *config.RegistrationPolicyHolder
	auditSvc    auditdomain.Service
	clock       clock.Clock
	obsMetrics  *obsmetrics.Metrics
	provider    string
	callbackURL string
}

func NewService(p Params) ledgerdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		adapters:    p.Adapters,
		approver:    p.Approver,
		receipts:    p.Receipts,
		policy:      p.Policy,
		auditSvc:    p.AuditSvc,
		clock:       c,
		obsMetrics:  p.ObsMetrics,
		provider:    strings.ToLower(strings.TrimSpace(p.Cfg.DefaultProvider)),
		callbackURL: strings.TrimSpace(p.Cfg.Paystack.CallbackURL),
	}
}

func (s *Service) OpenInvoice(ctx context.Context, req ledgerdomain.OpenInvoiceRequest) (*ledgerdomain.PaymentResult, error) {
	policy := s.policy.Get()

	payerEmail := normalizeEmail(req.PayerEmail)
	if payerEmail == "" {
		return nil, ledgerdomain.ErrInvalidPayer
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = policy.Currency
	}
	if len(currency) != 3 {
		return nil, ledgerdomain.ErrInvalidCurrency
	}

	total, err := sumLineItems(req.LineItems)
	if err != nil {
		return nil, err
	}
	if req.TotalAmount != 0 && req.TotalAmount != total {
		return nil, ledgerdomain.ErrInvalidLineItems
	}

	var adapter paymentdomain.Adapter
	provider := ""
	if !req.PayLater {
		provider = s.resolveProvider(req.Provider)
		adapter, err = s.adapters.Adapter(provider)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	invoice := &ledgerdomain.Invoice{
		ID:            s.genID.Generate(),
		OwnerID:       req.OwnerID,
		PayerEmail:    payerEmail,
		Status:        ledgerdomain.InvoiceStatusDraft,
		TotalAmount:   total,
		Currency:      currency,
		PaymentMethod: provider,
		Description:   strings.TrimSpace(req.Description),
		DueDate:       now.AddDate(0, 0, policy.DueDays),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.PayLater {
		invoice.Status = ledgerdomain.InvoiceStatusIssued
	}

	var payment *ledgerdomain.Payment
	var swimmerIDs []snowflake.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertInvoice(ctx, tx, invoice); err != nil {
			return err
		}

		if req.Attach != nil {
			ids, err := req.Attach(ctx, tx, invoice)
			if err != nil {
				return err
			}
			swimmerIDs = ids
		}
		if len(swimmerIDs) > 0 {
			primary := swimmerIDs[0]
			invoice.SwimmerID = &primary
			if err := s.repo.SetInvoicePrimarySwimmer(ctx, tx, invoice.ID, primary, now); err != nil {
				return err
			}
		}

		items := make([]ledgerdomain.LineItem, 0, len(req.LineItems))
		for _, in := range req.LineItems {
			items = append(items, ledgerdomain.LineItem{
				ID:          s.genID.Generate(),
				InvoiceID:   invoice.ID,
				SwimmerID:   in.SwimmerID,
				Description: strings.TrimSpace(in.Description),
				UnitAmount:  in.UnitAmount,
				Quantity:    in.Quantity,
				CreatedAt:   now,
			})
		}
		if err := s.repo.InsertLineItems(ctx, tx, items); err != nil {
			return err
		}

		if req.PayLater {
			return nil
		}

		payment = s.newPayment(invoice, provider, "REG", req.PayerPhone, ledgerdomain.Correlation{
			Purpose:    ledgerdomain.PurposeRegistration,
			SwimmerIDs: swimmerIDs,
			PayerEmail: payerEmail,
			Payer:      req.Payer,
		}, now)
		return s.repo.InsertPayment(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	result := &ledgerdomain.PaymentResult{
		InvoiceID:     invoice.ID,
		InvoiceStatus: invoice.Status,
		TotalAmount:   invoice.TotalAmount,
		Currency:      invoice.Currency,
		SwimmerIDs:    swimmerIDs,
	}
	if payment == nil {
		s.log.Info("invoice issued for later payment",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int("swimmers", len(swimmerIDs)),
		)
		return result, nil
	}

	return s.initiate(ctx, adapter, invoice, payment, result)
}

func (s *Service) PayInvoice(ctx context.Context, req ledgerdomain.PayInvoiceRequest) (*ledgerdomain.PaymentResult, error) {
	invoice, err := s.repo.FindInvoice(ctx, s.db, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ledgerdomain.ErrInvoiceNotFound
	}
	if invoice.OwnerID == nil || *invoice.OwnerID != req.OwnerID {
		return nil, ledgerdomain.ErrForbidden
	}
	if invoice.Status == ledgerdomain.InvoiceStatusPaid {
		return nil, ledgerdomain.ErrInvoiceAlreadyPaid
	}

	provider := s.resolveProvider(req.Provider)
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	payment := s.newPayment(invoice, provider, "INV", req.PayerPhone, ledgerdomain.Correlation{
		Purpose:    ledgerdomain.PurposeInvoicePayment,
		PayerEmail: invoice.PayerEmail,
	}, now)
	if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
		return nil, err
	}

	return s.initiate(ctx, adapter, invoice, payment, &ledgerdomain.PaymentResult{
		InvoiceID:     invoice.ID,
		InvoiceStatus: invoice.Status,
		TotalAmount:   invoice.TotalAmount,
		Currency:      invoice.Currency,
	})
}

func (s *Service) Reconcile(ctx context.Context, key string, outcome paymentdomain.Outcome) (*ledgerdomain.ReconcileResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = outcome.LookupKey()
	}
	if key == "" {
		return nil, ledgerdomain.ErrInvalidReference
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("payment_key", key))

	payment, err := s.repo.FindPaymentByKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ledgerdomain.ErrPaymentNotFound
	}
	if outcome.Provider != "" && !strings.EqualFold(outcome.Provider, payment.Provider) {
		log.Warn("outcome provider does not match payment",
			zap.String("payment_provider", payment.Provider),
			zap.String("outcome_provider", outcome.Provider),
		)
		return nil, ledgerdomain.ErrPaymentNotFound
	}

	if payment.Status.Terminal() {
		s.obsMetrics.RecordReconcile(ctx, payment.Provider, "already_reconciled")
		return s.currentState(ctx, payment)
	}
	// a flagged payment may still fail but never completes until cleared
	if payment.FlaggedAt != nil && outcome.Succeeded {
		s.obsMetrics.RecordReconcile(ctx, payment.Provider, "flagged")
		log.Warn("success outcome ignored for flagged payment")
		return nil, flaggedError(payment)
	}

	now := s.clock.Now()

	if !outcome.Succeeded {
		reason := strings.TrimSpace(outcome.FailureReason)
		if reason == "" {
			reason = "payment_failed"
		}
		failed, err := s.repo.FailPayment(ctx, s.db, payment.ID, reason, now)
		if err != nil {
			return nil, err
		}
		if !failed {
			return s.refreshState(ctx, payment.ID)
		}
		s.obsMetrics.RecordReconcile(ctx, payment.Provider, "failed")
		log.Info("payment failed", zap.String("reason", reason))
		return &ledgerdomain.ReconcileResult{
			PaymentID:     payment.ID,
			InvoiceID:     payment.InvoiceID,
			Reference:     payment.Reference,
			PaymentStatus: ledgerdomain.PaymentStatusFailed,
			InvoiceStatus: s.invoiceStatus(ctx, payment.InvoiceID),
		}, nil
	}

	if mismatch := s.amountMismatch(payment, outcome); mismatch != "" {
		if err := s.repo.FlagPayment(ctx, s.db, payment.ID, mismatch, now); err != nil {
			return nil, err
		}
		s.obsMetrics.RecordReconcile(ctx, payment.Provider, "amount_mismatch")
		s.audit(ctx, auditdomain.ActionAmountMismatch, payment, map[string]any{
			"provider":  payment.Provider,
			"expected":  payment.Amount,
			"received":  outcome.AmountPaid,
			"currency":  outcome.Currency,
			"reason":    mismatch,
			"tolerance": s.policy.Get().AmountTolerance,
		})
		log.Warn("payment amount mismatch",
			zap.Int64("expected", payment.Amount),
			zap.Int64("received", outcome.AmountPaid),
			zap.String("reason", mismatch),
		)
		return nil, fmt.Errorf("%w: expected %d %s, received %d %s", ledgerdomain.ErrAmountMismatch, payment.Amount, payment.Currency, outcome.AmountPaid, outcome.Currency)
	}

	paidAt := outcome.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	paidAt = paidAt.UTC()

	result := &ledgerdomain.ReconcileResult{
		PaymentID: payment.ID,
		InvoiceID: payment.InvoiceID,
		Reference: payment.Reference,
	}
	doublePayment := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed, err := s.repo.CompletePayment(ctx, tx, payment.ID, outcome, paidAt)
		if err != nil {
			return err
		}
		if !completed {
			result.AlreadyReconciled = true
			return nil
		}
		payment.Status = ledgerdomain.PaymentStatusCompleted
		payment.PaidAt = &paidAt
		payment.ProviderTransactionID = optional(outcome.TransactionID)
		payment.Channel = optional(outcome.Channel)

		invoice, err := s.repo.FindInvoice(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return ledgerdomain.ErrInvoiceNotFound
		}

		transactionRef := strings.TrimSpace(outcome.TransactionID)
		if transactionRef == "" {
			transactionRef = payment.Reference
		}
		marked, err := s.repo.MarkInvoicePaid(ctx, tx, invoice.ID, transactionRef, paidAt)
		if err != nil {
			return err
		}
		if marked {
			invoice.Status = ledgerdomain.InvoiceStatusPaid
			invoice.PaidAt = &paidAt
			invoice.TransactionReference = &transactionRef
		} else {
			doublePayment = true
		}

		approved, err := s.approver.ApproveWithin(ctx, tx, invoice, payment.Correlation.Data())
		if err != nil {
			return err
		}
		result.ApprovedSwimmers = approved

		number, err := s.receipts.IssueWithin(ctx, tx, payment, invoice)
		if err != nil {
			return err
		}
		result.ReceiptNumber = number
		result.PaymentStatus = ledgerdomain.PaymentStatusCompleted
		result.InvoiceStatus = invoice.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyReconciled {
		s.obsMetrics.RecordReconcile(ctx, payment.Provider, "already_reconciled")
		return s.refreshState(ctx, payment.ID)
	}

	if doublePayment {
		s.audit(ctx, auditdomain.ActionDoublePayment, payment, map[string]any{
			"provider":   payment.Provider,
			"invoice_id": payment.InvoiceID.String(),
			"amount":     outcome.AmountPaid,
		})
		log.Warn("payment completed against an already paid invoice", zap.String("invoice_id", payment.InvoiceID.String()))
	}

	s.obsMetrics.RecordReconcile(ctx, payment.Provider, "completed")
	if result.ReceiptNumber != "" {
		s.obsMetrics.RecordReceiptIssued(ctx, receiptdomain.Numbering(result.ReceiptNumber))
	}
	log.Info("payment reconciled",
		zap.String("invoice_id", payment.InvoiceID.String()),
		zap.Int("approved_swimmers", len(result.ApprovedSwimmers)),
		zap.String("receipt_number", result.ReceiptNumber),
	)
	return result, nil
}

func (s *Service) Verify(ctx context.Context, reference string) (*ledgerdomain.ReconcileResult, error) {
	payment, err := s.repo.FindPaymentByKey(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ledgerdomain.ErrPaymentNotFound
	}
	if payment.Status.Terminal() {
		return s.currentState(ctx, payment)
	}
	if payment.FlaggedAt != nil {
		return nil, flaggedError(payment)
	}

	adapter, err := s.adapters.Adapter(payment.Provider)
	if err != nil {
		return nil, err
	}

	lookup := paymentdomain.Lookup{
		Reference:      payment.Reference,
		ExpectedAmount: payment.Amount,
		Currency:       payment.Currency,
	}
	if payment.ProviderReference != nil {
		lookup.ProviderReference = *payment.ProviderReference
	}

	outcome, err := adapter.Fetch(ctx, lookup)
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, payment.Reference, *outcome)
}

func (s *Service) GetInvoice(ctx context.Context, id snowflake.ID) (*ledgerdomain.InvoiceDetail, error) {
	invoice, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ledgerdomain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListLineItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &ledgerdomain.InvoiceDetail{Invoice: *invoice, LineItems: items, Payments: payments}, nil
}

func (s *Service) FindPayment(ctx context.Context, reference string) (*ledgerdomain.Payment, error) {
	payment, err := s.repo.FindPaymentByKey(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ledgerdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListStalePending(ctx context.Context, olderThan, youngerThan time.Duration, limit int) ([]ledgerdomain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.clock.Now()
	return s.repo.ListStalePending(ctx, s.db, now.Add(-olderThan), now.Add(-youngerThan), limit)
}

func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	return s.repo.MarkOverdue(ctx, s.db, s.clock.Now())
}

func (s *Service) initiate(
	ctx context.Context,
	adapter paymentdomain.Adapter,
	invoice *ledgerdomain.Invoice,
	payment *ledgerdomain.Payment,
	result *ledgerdomain.PaymentResult,
) (*ledgerdomain.PaymentResult, error) {
	correlation := payment.Correlation.Data()
	paymentID := payment.ID
	result.PaymentID = &paymentID
	result.Reference = payment.Reference
	result.Provider = payment.Provider
	result.PaymentStatus = ledgerdomain.PaymentStatusPending

	intent := paymentdomain.Intent{
		Reference:   payment.Reference,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		PayerEmail:  invoice.PayerEmail,
		Description: invoice.Description,
		Metadata: map[string]string{
			"invoice_id": invoice.ID.String(),
			"payment_id": payment.ID.String(),
			"purpose":    string(correlation.Purpose),
		},
	}
	if payment.PhoneNumber != nil {
		intent.PayerPhone = *payment.PhoneNumber
	}
	if payment.Provider == paymentdomain.ProviderPaystack {
		intent.CallbackURL = s.callbackURL
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("reference", payment.Reference),
		zap.String("provider", payment.Provider),
	)

	pending, err := adapter.Initiate(ctx, intent)
	if err != nil {
		now := s.clock.Now()
		if _, failErr := s.repo.FailPayment(ctx, s.db, payment.ID, paymentdomain.ErrProviderUnavailable.Error(), now); failErr != nil {
			log.Error("failed to mark payment failed after initiate error", zap.Error(failErr))
		}
		result.PaymentStatus = ledgerdomain.PaymentStatusFailed
		if errors.Is(err, paymentdomain.ErrInvalidIntent) {
			return result, err
		}
		s.audit(ctx, auditdomain.ActionProviderUnavailable, payment, map[string]any{
			"provider": payment.Provider,
			"error":    err.Error(),
		})
		log.Warn("payment initiation failed", zap.Error(err))
		if errors.Is(err, paymentdomain.ErrProviderUnavailable) {
			return result, err
		}
		return result, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}

	switch payment.Provider {
	case paymentdomain.ProviderPaystack:
		correlation.Paystack = &ledgerdomain.PaystackCorrelation{
			AccessCode:       pending.AccessCode,
			AuthorizationURL: pending.RedirectURL,
		}
	case paymentdomain.ProviderMpesa:
		correlation.Mpesa = &ledgerdomain.MpesaCorrelation{
			CheckoutRequestID: pending.ProviderReference,
			MerchantRequestID: pending.MerchantRequestID,
			Phone:             intent.PayerPhone,
		}
	}

	if err := s.repo.AttachProviderReference(ctx, s.db, payment.ID, pending.ProviderReference, correlation, s.clock.Now()); err != nil {
		return nil, err
	}

	result.AuthorizationURL = pending.RedirectURL
	result.AccessCode = pending.AccessCode
	result.CustomerMessage = pending.CustomerMessage

	s.obsMetrics.RecordPaymentInitiated(ctx, payment.Provider, string(correlation.Purpose))
	log.Info("payment initiated", zap.String("invoice_id", invoice.ID.String()))
	return result, nil
}

func (s *Service) newPayment(invoice *ledgerdomain.Invoice, provider, prefix, phone string, correlation ledgerdomain.Correlation, now time.Time) *ledgerdomain.Payment {
	payment := &ledgerdomain.Payment{
		ID:          s.genID.Generate(),
		InvoiceID:   invoice.ID,
		Provider:    provider,
		Reference:   prefix + "-" + ulid.Make().String(),
		Status:      ledgerdomain.PaymentStatusPending,
		Amount:      invoice.TotalAmount,
		Currency:    invoice.Currency,
		Correlation: datatypes.NewJSONType(correlation),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		payment.PhoneNumber = &phone
	}
	return payment
}

func (s *Service) amountMismatch(payment *ledgerdomain.Payment, outcome paymentdomain.Outcome) string {
	if outcome.Currency != "" && !strings.EqualFold(outcome.Currency, payment.Currency) {
		return "currency_mismatch"
	}
	diff := outcome.AmountPaid - payment.Amount
	if diff < 0 {
		diff = -diff
	}
	if diff > s.policy.Get().AmountTolerance {
		return "amount_mismatch"
	}
	return ""
}

func (s *Service) currentState(ctx context.Context, payment *ledgerdomain.Payment) (*ledgerdomain.ReconcileResult, error) {
	result := &ledgerdomain.ReconcileResult{
		PaymentID:         payment.ID,
		InvoiceID:         payment.InvoiceID,
		Reference:         payment.Reference,
		PaymentStatus:     payment.Status,
		InvoiceStatus:     s.invoiceStatus(ctx, payment.InvoiceID),
		AlreadyReconciled: true,
	}
	if payment.Status == ledgerdomain.PaymentStatusCompleted {
		number, err := s.receipts.ReceiptNumberFor(ctx, s.db, payment.ID)
		if err != nil {
			return nil, err
		}
		result.ReceiptNumber = number
	}
	return result, nil
}

func (s *Service) refreshState(ctx context.Context, paymentID snowflake.ID) (*ledgerdomain.ReconcileResult, error) {
	payment, err := s.repo.FindPaymentByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ledgerdomain.ErrPaymentNotFound
	}
	if payment.Status == ledgerdomain.PaymentStatusPending && payment.FlaggedAt != nil {
		return nil, flaggedError(payment)
	}
	return s.currentState(ctx, payment)
}

func flaggedError(payment *ledgerdomain.Payment) error {
	reason := "flagged"
	if payment.FlagReason != nil && *payment.FlagReason != "" {
		reason = *payment.FlagReason
	}
	return fmt.Errorf("%w: payment %s held for review (%s)", ledgerdomain.ErrAmountMismatch, payment.Reference, reason)
}

func (s *Service) invoiceStatus(ctx context.Context, invoiceID snowflake.ID) ledgerdomain.InvoiceStatus {
	invoice, err := s.repo.FindInvoice(ctx, s.db, invoiceID)
	if err != nil || invoice == nil {
		return ""
	}
	return invoice.Status
}

func (s *Service) resolveProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = s.provider
	}
	return provider
}

func (s *Service) audit(ctx context.Context, action string, payment *ledgerdomain.Payment, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := payment.Reference
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeProvider), nil, action, "payment", &target, metadata); err != nil {
		s.log.Warn("failed to record payment anomaly", zap.String("action", action), zap.Error(err))
	}
}

func sumLineItems(items []ledgerdomain.LineItemInput) (int64, error) {
	if len(items) == 0 {
		return 0, ledgerdomain.ErrInvalidLineItems
	}
	var total int64
	for _, item := range items {
		if item.UnitAmount <= 0 || item.Quantity <= 0 || strings.TrimSpace(item.Description) == "" {
			return 0, ledgerdomain.ErrInvalidLineItems
		}
		if item.UnitAmount > math.MaxInt64/item.Quantity {
			return 0, fmt.Errorf("%w: line amount overflows", ledgerdomain.ErrInvalidLineItems)
		}
		amount := item.UnitAmount * item.Quantity
		if total > math.MaxInt64-amount {
			return 0, fmt.Errorf("%w: invoice total overflows", ledgerdomain.ErrInvalidLineItems)
		}
		total += amount
	}
	return total, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
