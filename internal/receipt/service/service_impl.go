package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/swimreg/internal/observability/metrics"
	"github.com/smallbiznis/swimreg/internal/providers/pdf"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	pkgdb "github.com/smallbiznis/swimreg/pkg/db"
	"github.com/smallbiznis/swimreg/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	receiptSavepoint = "receipt_number"
	maxDispatchTries = 10
)

var eat = time.FixedZone("EAT", 3*60*60)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       receiptdomain.Repository
	Ledger     ledgerdomain.Repository
	PDF        pdf.Provider                     `optional:"true"`
	Notifier   receiptdomain.Notifier           `optional:"true"`
	Policy     *config.RegistrationPolicyHolder `optional:"true"`
	Clock      clock.Clock                      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics              `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       receiptdomain.Repository
	ledger     ledgerdomain.Repository
	pdf        pdf.Provider
	notifier   receiptdomain.Notifier
	policy     *config.RegistrationPolicyHolder
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
	clubEmail  string
}

func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("receipt.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		pdf:        renderer,
		notifier:   p.Notifier,
		policy:     p.Policy,
		clock:      c,
		obsMetrics: p.ObsMetrics,
		clubEmail:  strings.TrimSpace(p.Cfg.Email.SMTPFrom),
	}
}

func (s *Service) IssueFor(ctx context.Context, paymentID snowflake.ID) (*receiptdomain.Receipt, error) {
	var receipt *receiptdomain.Receipt
	issued := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			receipt = existing
			return nil
		}

		payment, err := s.ledger.FindPaymentByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return ledgerdomain.ErrPaymentNotFound
		}
		invoice, err := s.ledger.FindInvoice(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return ledgerdomain.ErrInvoiceNotFound
		}

		if _, err := s.IssueWithin(ctx, tx, payment, invoice); err != nil {
			return err
		}
		receipt, err = s.repo.FindByPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		issued = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, receiptdomain.ErrReceiptNotFound
	}
	if issued {
		s.obsMetrics.RecordReceiptIssued(ctx, receiptdomain.Numbering(receipt.ReceiptNumber))
	}
	return receipt, nil
}

// IssueWithin must run inside the caller's transaction.
func (s *Service) IssueWithin(ctx context.Context, tx *gorm.DB, payment *ledgerdomain.Payment, invoice *ledgerdomain.Invoice) (string, error) {
	existing, err := s.repo.FindByPayment(ctx, tx, payment.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ReceiptNumber, nil
	}
	if payment.Status != ledgerdomain.PaymentStatusCompleted {
		return "", receiptdomain.ErrPaymentNotCompleted
	}

	now := s.clock.Now()
	number, err := s.nextNumber(ctx, tx, payment.ID, now)
	if err != nil {
		return "", err
	}

	items, err := s.ledger.ListLineItems(ctx, tx, invoice.ID)
	if err != nil {
		return "", err
	}

	receipt := &receiptdomain.Receipt{
		ID:            s.genID.Generate(),
		PaymentID:     payment.ID,
		InvoiceID:     invoice.ID,
		ReceiptNumber: number,
		Snapshot:      datatypes.NewJSONType(s.snapshot(payment, invoice, items, now)),
		IssuedAt:      now,
	}
	inserted, err := s.repo.Insert(ctx, tx, receipt)
	if err != nil {
		return "", err
	}
	if !inserted {
		existing, err := s.repo.FindByPayment(ctx, tx, payment.ID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", receiptdomain.ErrReceiptNotFound
		}
		return existing.ReceiptNumber, nil
	}

	if _, err := s.repo.InsertEvent(ctx, tx, &receiptdomain.Event{
		ID:             s.genID.Generate(),
		ReceiptID:      receipt.ID,
		PaymentID:      payment.ID,
		InvoiceID:      invoice.ID,
		RecipientEmail: invoice.PayerEmail,
		Status:         receiptdomain.EventStatusPending,
		CreatedAt:      now,
	}); err != nil {
		return "", err
	}
	return number, nil
}

func (s *Service) ReceiptNumberFor(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (string, error) {
	receipt, err := s.repo.FindByPayment(ctx, db, paymentID)
	if err != nil || receipt == nil {
		return "", err
	}
	return receipt.ReceiptNumber, nil
}

func (s *Service) GetForInvoice(ctx context.Context, invoiceID snowflake.ID) (*receiptdomain.Receipt, error) {
	receipt, err := s.repo.FindLatestByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, receiptdomain.ErrReceiptNotFound
	}
	return receipt, nil
}

func (s *Service) RenderPDF(ctx context.Context, receipt *receiptdomain.Receipt) ([]byte, error) {
	snap := receipt.Snapshot.Data()
	doc := pdf.ReceiptDocument{
		ClubName:         snap.ClubName,
		ClubEmail:        s.clubEmail,
		ReceiptNumber:    receipt.ReceiptNumber,
		IssuedAt:         receipt.IssuedAt.In(eat).Format("2 Jan 2006"),
		PaidAt:           snap.PaidAt.In(eat).Format("2 Jan 2006 15:04"),
		PayerName:        snap.PayerName,
		PayerEmail:       snap.PayerEmail,
		PayerPhone:       snap.PayerPhone,
		PaymentMethod:    paymentMethodLabel(snap.Provider, snap.Channel),
		PaymentReference: snap.PaymentReference,
		TransactionID:    snap.TransactionID,
		Total:            money.Format(snap.Amount, snap.Currency),
	}
	for _, line := range snap.LineItems {
		doc.Items = append(doc.Items, pdf.ReceiptLine{
			Description: line.Description,
			Qty:         line.Quantity,
			UnitPrice:   money.Format(line.UnitAmount, snap.Currency),
			Amount:      money.Format(line.Amount, snap.Currency),
		})
	}
	return s.pdf.GenerateReceipt(ctx, doc)
}

func (s *Service) DownloadName(receipt *receiptdomain.Receipt) string {
	return "receipt-" + slug.Make(receipt.ReceiptNumber) + ".pdf"
}

// DispatchPending hands pending receipt events to the notifier.
func (s *Service) DispatchPending(ctx context.Context, limit int) (receiptdomain.DispatchResult, error) {
	var result receiptdomain.DispatchResult
	if s.notifier == nil {
		return result, nil
	}
	if limit <= 0 {
		limit = 50
	}

	events, err := s.repo.ListPendingEvents(ctx, s.db, maxDispatchTries, limit)
	if err != nil {
		return result, err
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		receipt, err := s.repo.FindByID(ctx, s.db, event.ReceiptID)
		if err != nil {
			return result, err
		}
		if receipt == nil {
			if err := s.repo.MarkAttemptFailed(ctx, s.db, event.ID, receiptdomain.ErrReceiptNotFound.Error()); err != nil {
				return result, err
			}
			result.Failed++
			continue
		}

		msg := receiptdomain.ReadyMessage{
			EventID:        event.ID,
			ReceiptID:      receipt.ID,
			PaymentID:      event.PaymentID,
			InvoiceID:      event.InvoiceID,
			ReceiptNumber:  receipt.ReceiptNumber,
			RecipientEmail: event.RecipientEmail,
			Snapshot:       receipt.Snapshot.Data(),
			IssuedAt:       receipt.IssuedAt,
		}
		if err := s.notifier.NotifyReceiptReady(ctx, msg); err != nil {
			s.log.Warn("receipt notification failed",
				zap.String("receipt_number", receipt.ReceiptNumber),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err),
			)
			if markErr := s.repo.MarkAttemptFailed(ctx, s.db, event.ID, truncate(err.Error(), 500)); markErr != nil {
				return result, markErr
			}
			result.Failed++
			continue
		}
		if err := s.repo.MarkDispatched(ctx, s.db, event.ID, s.clock.Now()); err != nil {
			return result, err
		}
		result.Dispatched++
	}
	return result, nil
}

func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, now time.Time) (string, error) {
	if err := tx.SavePoint(receiptSavepoint).Error; err != nil {
		return "", err
	}
	seq, err := s.repo.NextSequence(ctx, tx)
	if err == nil {
		return fmt.Sprintf("RCP-%d-%06d", now.Year(), seq), nil
	}
	if rbErr := tx.RollbackTo(receiptSavepoint).Error; rbErr != nil {
		return "", rbErr
	}
	if !pkgdb.IsMissingSequenceErr(err) {
		return "", err
	}

	// the low digits of a snowflake id carry its sequence bits
	id := paymentID.String()
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	s.log.Warn("receipt sequence unavailable, using fallback number", zap.Error(err))
	return fmt.Sprintf("REC-%d-%s", now.UnixMilli(), id), nil
}

func (s *Service) snapshot(payment *ledgerdomain.Payment, invoice *ledgerdomain.Invoice, items []ledgerdomain.LineItem, now time.Time) receiptdomain.Snapshot {
	correlation := payment.Correlation.Data()
	snap := receiptdomain.Snapshot{
		ClubName:         s.policy.Get().ClubName,
		InvoiceID:        invoice.ID.String(),
		PaymentReference: payment.Reference,
		Provider:         payment.Provider,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
		PayerEmail:       invoice.PayerEmail,
		PaidAt:           now,
		LineItems:        make([]receiptdomain.SnapshotLine, 0, len(items)),
	}
	if payment.PaidAt != nil {
		snap.PaidAt = *payment.PaidAt
	}
	if payment.ProviderTransactionID != nil {
		snap.TransactionID = *payment.ProviderTransactionID
	}
	if payment.Channel != nil {
		snap.Channel = *payment.Channel
	}
	if payment.PhoneNumber != nil {
		snap.PayerPhone = *payment.PhoneNumber
	}
	if correlation.Payer != nil {
		snap.PayerName = correlation.Payer.FullName
		if snap.PayerPhone == "" {
			snap.PayerPhone = correlation.Payer.Phone
		}
	}
	for _, item := range items {
		snap.LineItems = append(snap.LineItems, receiptdomain.SnapshotLine{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Amount(),
		})
	}
	return snap
}

func paymentMethodLabel(provider, channel string) string {
	label := provider
	switch provider {
	case "mpesa":
		label = "M-Pesa"
	case "paystack":
		label = "Paystack"
	}
	if channel != "" && !strings.EqualFold(channel, provider) {
		label += " (" + strings.ReplaceAll(channel, "_", " ") + ")"
	}
	return label
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
