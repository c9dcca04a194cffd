package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() receiptdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, receipt *receiptdomain.Receipt) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(receipt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

const receiptColumns = `id, payment_id, invoice_id, receipt_number, snapshot, issued_at`

func (r *repo) FindByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*receiptdomain.Receipt, error) {
	return r.findOne(ctx, db, `SELECT `+receiptColumns+` FROM receipts WHERE payment_id = ?`, paymentID)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*receiptdomain.Receipt, error) {
	return r.findOne(ctx, db, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
}

func (r *repo) FindLatestByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*receiptdomain.Receipt, error) {
	return r.findOne(ctx, db,
		`SELECT `+receiptColumns+`
		 FROM receipts
		 WHERE invoice_id = ?
		 ORDER BY issued_at DESC, id DESC
		 LIMIT 1`,
		invoiceID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*receiptdomain.Receipt, error) {
	var receipt receiptdomain.Receipt
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&receipt).Error; err != nil {
		return nil, err
	}
	if receipt.ID == 0 {
		return nil, nil
	}
	return &receipt, nil
}

// NextSequence draws from receipt_number_seq. Databases without sequences
// return an error the caller is expected to recover from.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Raw(`SELECT nextval('receipt_number_seq')`).Row().Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *receiptdomain.Event) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO receipt_events (
			id, receipt_id, payment_id, invoice_id, recipient_email, status, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (receipt_id) DO NOTHING`,
		event.ID,
		event.ReceiptID,
		event.PaymentID,
		event.InvoiceID,
		event.RecipientEmail,
		event.Status,
		event.Attempts,
		event.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListPendingEvents(ctx context.Context, db *gorm.DB, maxAttempts int, limit int) ([]receiptdomain.Event, error) {
	var events []receiptdomain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, receipt_id, payment_id, invoice_id, recipient_email, status, attempts,
			last_error, created_at, dispatched_at
		 FROM receipt_events
		 WHERE status = ? AND attempts < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		receiptdomain.EventStatusPending,
		maxAttempts,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkDispatched(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE receipt_events
		 SET status = ?, dispatched_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE id = ? AND status = ?`,
		receiptdomain.EventStatusDispatched,
		at,
		id,
		receiptdomain.EventStatusPending,
	).Error
}

func (r *repo) MarkAttemptFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE receipt_events
		 SET attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND status = ?`,
		reason,
		id,
		receiptdomain.EventStatusPending,
	).Error
}
