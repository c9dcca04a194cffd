package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Receipt numbering schemes.
const (
	NumberingSequence = "sequence"
	NumberingFallback = "fallback"
)

type Receipt struct {
	ID            snowflake.ID                 `json:"id" gorm:"primaryKey"`
	PaymentID     snowflake.ID                 `json:"payment_id" gorm:"not null;uniqueIndex"`
	InvoiceID     snowflake.ID                 `json:"invoice_id" gorm:"not null;index"`
	ReceiptNumber string                       `json:"receipt_number" gorm:"type:text;not null;uniqueIndex"`
	Snapshot      datatypes.JSONType[Snapshot] `json:"snapshot" gorm:"type:jsonb;not null"`
	IssuedAt      time.Time                    `json:"issued_at" gorm:"not null"`
}

func (Receipt) TableName() string { return "receipts" }

// Snapshot freezes what was paid at issue time.
type Snapshot struct {
	ClubName         string         `json:"club_name"`
	InvoiceID        string         `json:"invoice_id"`
	PaymentReference string         `json:"payment_reference"`
	TransactionID    string         `json:"transaction_id,omitempty"`
	Provider         string         `json:"provider"`
	Channel          string         `json:"channel,omitempty"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	PayerName        string         `json:"payer_name,omitempty"`
	PayerEmail       string         `json:"payer_email"`
	PayerPhone       string         `json:"payer_phone,omitempty"`
	PaidAt           time.Time      `json:"paid_at"`
	LineItems        []SnapshotLine `json:"line_items"`
}

type SnapshotLine struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusDispatched EventStatus = "dispatched"
)

// Event is the outbox row announcing that a receipt is ready.
type Event struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	ReceiptID      snowflake.ID `json:"receipt_id" gorm:"not null;uniqueIndex"`
	PaymentID      snowflake.ID `json:"payment_id" gorm:"not null"`
	InvoiceID      snowflake.ID `json:"invoice_id" gorm:"not null"`
	RecipientEmail string       `json:"recipient_email" gorm:"type:text;not null"`
	Status         EventStatus  `json:"status" gorm:"type:text;not null"`
	Attempts       int          `json:"attempts" gorm:"not null"`
	LastError      *string      `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	DispatchedAt   *time.Time   `json:"dispatched_at,omitempty"`
}

func (Event) TableName() string { return "receipt_events" }

// ReadyMessage is what notifiers receive for a pending event.
type ReadyMessage struct {
	EventID        snowflake.ID `json:"event_id"`
	ReceiptID      snowflake.ID `json:"receipt_id"`
	PaymentID      snowflake.ID `json:"payment_id"`
	InvoiceID      snowflake.ID `json:"invoice_id"`
	ReceiptNumber  string       `json:"receipt_number"`
	RecipientEmail string       `json:"recipient_email"`
	Snapshot       Snapshot     `json:"snapshot"`
	IssuedAt       time.Time    `json:"issued_at"`
}

// Notifier delivers receipt-ready messages.
type Notifier interface {
	NotifyReceiptReady(ctx context.Context, msg ReadyMessage) error
}

type DispatchResult struct {
	Dispatched int
	Failed     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, receipt *Receipt) (bool, error)
	FindByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Receipt, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Receipt, error)
	FindLatestByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*Receipt, error)
	NextSequence(ctx context.Context, db *gorm.DB) (int64, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	ListPendingEvents(ctx context.Context, db *gorm.DB, maxAttempts int, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkAttemptFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
}

type Service interface {
	// IssueFor issues the receipt for a completed payment in its own
	// transaction. An existing receipt is returned unchanged.
	IssueFor(ctx context.Context, paymentID snowflake.ID) (*Receipt, error)
	IssueWithin(ctx context.Context, tx *gorm.DB, payment *ledgerdomain.Payment, invoice *ledgerdomain.Invoice) (string, error)
	ReceiptNumberFor(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (string, error)
	GetForInvoice(ctx context.Context, invoiceID snowflake.ID) (*Receipt, error)
	RenderPDF(ctx context.Context, receipt *Receipt) ([]byte, error)
	DownloadName(receipt *Receipt) string
	DispatchPending(ctx context.Context, limit int) (DispatchResult, error)
}

// Numbering reports which scheme produced number.
func Numbering(number string) string {
	if strings.HasPrefix(number, "REC-") {
		return NumberingFallback
	}
	return NumberingSequence
}

var (
	ErrReceiptNotFound     = errors.New("receipt_not_found")
	ErrPaymentNotCompleted = errors.New("payment_not_completed")
)
