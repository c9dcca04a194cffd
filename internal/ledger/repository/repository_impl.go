package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *ledgerdomain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) InsertLineItems(ctx context.Context, db *gorm.DB, items []ledgerdomain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *ledgerdomain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.Invoice, error) {
	var invoice ledgerdomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_id, swimmer_id, payer_email, status, total_amount, currency,
			payment_method, description, due_date, paid_at, transaction_reference,
			created_at, updated_at
		 FROM invoices
		 WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]ledgerdomain.LineItem, error) {
	var items []ledgerdomain.LineItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, swimmer_id, description, unit_amount, quantity, created_at
		 FROM invoice_line_items
		 WHERE invoice_id = ?
		 ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

const paymentColumns = `id, invoice_id, provider, reference, provider_reference, status, amount,
	currency, phone_number, correlation, provider_transaction_id, channel, failure_reason,
	flag_reason, flagged_at, paid_at, created_at, updated_at`

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]ledgerdomain.Payment, error) {
	var payments []ledgerdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE invoice_id = ?
		 ORDER BY created_at ASC, id ASC`,
		invoiceID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.Payment, error) {
	var payment ledgerdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindPaymentByKey(ctx context.Context, db *gorm.DB, key string) (*ledgerdomain.Payment, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var payment ledgerdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE reference = ? OR provider_reference = ?
		 LIMIT 1`,
		key,
		key,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) SetInvoicePrimarySwimmer(ctx context.Context, db *gorm.DB, invoiceID, swimmerID snowflake.ID, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET swimmer_id = ?, updated_at = ? WHERE id = ?`,
		swimmerID,
		updatedAt,
		invoiceID,
	).Error
}

func (r *repo) AttachProviderReference(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, providerReference string, correlation ledgerdomain.Correlation, updatedAt time.Time) error {
	raw, err := json.Marshal(correlation)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_reference = ?, correlation = ?, updated_at = ?
		 WHERE id = ?`,
		providerReference,
		string(raw),
		updatedAt,
		paymentID,
	).Error
}

// CompletePayment moves a pending, unflagged payment to completed. It
// reports false when another caller already finished or flagged it.
func (r *repo) CompletePayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, outcome paymentdomain.Outcome, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, provider_transaction_id = ?, channel = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND flagged_at IS NULL`,
		ledgerdomain.PaymentStatusCompleted,
		nullable(outcome.TransactionID),
		nullable(outcome.Channel),
		paidAt,
		paidAt,
		paymentID,
		ledgerdomain.PaymentStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FailPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reason string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		ledgerdomain.PaymentStatusFailed,
		reason,
		updatedAt,
		paymentID,
		ledgerdomain.PaymentStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FlagPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reason string, flaggedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET flag_reason = ?, flagged_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		reason,
		flaggedAt,
		flaggedAt,
		paymentID,
		ledgerdomain.PaymentStatusPending,
	).Error
}

// MarkInvoicePaid reports false when the invoice was already paid.
func (r *repo) MarkInvoicePaid(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, transactionReference string, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, transaction_reference = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		ledgerdomain.InvoiceStatusPaid,
		paidAt,
		transactionReference,
		paidAt,
		invoiceID,
		ledgerdomain.InvoiceStatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, createdBefore, createdAfter time.Time, limit int) ([]ledgerdomain.Payment, error) {
	var payments []ledgerdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = ?
		   AND flagged_at IS NULL
		   AND provider_reference IS NOT NULL
		   AND created_at < ?
		   AND created_at > ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		ledgerdomain.PaymentStatusPending,
		createdBefore,
		createdAfter,
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND due_date < ?`,
		ledgerdomain.InvoiceStatusDue,
		now,
		ledgerdomain.InvoiceStatusIssued,
		now,
	)
	return res.RowsAffected, res.Error
}

func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
