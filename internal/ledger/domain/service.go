package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"gorm.io/gorm"
)

// AttachFunc runs inside the OpenInvoice transaction after the invoice row
// exists. It inserts the records the invoice pays for and returns the ids
// of the swimmers it created, primary swimmer first.
type AttachFunc func(ctx context.Context, tx *gorm.DB, invoice *Invoice) ([]snowflake.ID, error)

type LineItemInput struct {
	SwimmerID   *snowflake.ID
	Description string
	UnitAmount  int64
	Quantity    int64
}

type OpenInvoiceRequest struct {
	OwnerID     *snowflake.ID
	PayerEmail  string
	PayerPhone  string
	Payer       *PayerProfile
	Currency    string
	Description string
	Provider    string
	// PayLater issues the invoice without opening a payment.
	PayLater bool
	// TotalAmount, when set, must equal the line item sum.
	TotalAmount int64
	LineItems   []LineItemInput
	Attach      AttachFunc
}

type PayInvoiceRequest struct {
	InvoiceID  snowflake.ID
	OwnerID    snowflake.ID
	Provider   string
	PayerPhone string
}

// PaymentResult describes an opened invoice and, for pay-now flows, the
// payment attempt that was initiated.
type PaymentResult struct {
	InvoiceID        snowflake.ID   `json:"invoice_id"`
	InvoiceStatus    InvoiceStatus  `json:"invoice_status"`
	TotalAmount      int64          `json:"total_amount"`
	Currency         string         `json:"currency"`
	SwimmerIDs       []snowflake.ID `json:"swimmer_ids,omitempty"`
	PaymentID        *snowflake.ID  `json:"payment_id,omitempty"`
	Reference        string         `json:"reference,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	PaymentStatus    PaymentStatus  `json:"payment_status,omitempty"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
	AccessCode       string         `json:"access_code,omitempty"`
	CustomerMessage  string         `json:"customer_message,omitempty"`
}

type ReconcileResult struct {
	PaymentID         snowflake.ID   `json:"payment_id"`
	InvoiceID         snowflake.ID   `json:"invoice_id"`
	Reference         string         `json:"reference"`
	PaymentStatus     PaymentStatus  `json:"payment_status"`
	InvoiceStatus     InvoiceStatus  `json:"invoice_status"`
	AlreadyReconciled bool           `json:"already_reconciled"`
	ApprovedSwimmers  []snowflake.ID `json:"approved_swimmers,omitempty"`
	ReceiptNumber     string         `json:"receipt_number,omitempty"`
}

// SwimmerApprover promotes the swimmers a completed payment covers.
type SwimmerApprover interface {
	ApproveWithin(ctx context.Context, tx *gorm.DB, invoice *Invoice, correlation Correlation) ([]snowflake.ID, error)
}

// ReceiptIssuer issues the receipt for a completed payment inside the
// reconciling transaction.
type ReceiptIssuer interface {
	IssueWithin(ctx context.Context, tx *gorm.DB, payment *Payment, invoice *Invoice) (receiptNumber string, err error)
	ReceiptNumberFor(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (string, error)
}

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertLineItems(ctx context.Context, db *gorm.DB, items []LineItem) error
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
	FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	// FindPaymentByKey matches either our reference or the provider reference.
	FindPaymentByKey(ctx context.Context, db *gorm.DB, key string) (*Payment, error)
	SetInvoicePrimarySwimmer(ctx context.Context, db *gorm.DB, invoiceID, swimmerID snowflake.ID, updatedAt time.Time) error
	AttachProviderReference(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, providerReference string, correlation Correlation, updatedAt time.Time) error
	CompletePayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, outcome paymentdomain.Outcome, paidAt time.Time) (bool, error)
	FailPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reason string, updatedAt time.Time) (bool, error)
	FlagPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reason string, flaggedAt time.Time) error
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, transactionReference string, paidAt time.Time) (bool, error)
	ListStalePending(ctx context.Context, db *gorm.DB, createdBefore, createdAfter time.Time, limit int) ([]Payment, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

type Service interface {
	// OpenInvoice creates the invoice, its line items, the attached records
	// and, unless PayLater, a pending payment which is then initiated with
	// the provider. When initiation fails the result is still returned with
	// an error wrapping provider_unavailable.
	OpenInvoice(ctx context.Context, req OpenInvoiceRequest) (*PaymentResult, error)
	PayInvoice(ctx context.Context, req PayInvoiceRequest) (*PaymentResult, error)
	// Reconcile applies a provider outcome to the payment identified by key.
	// It is the only path that completes payments.
	Reconcile(ctx context.Context, key string, outcome paymentdomain.Outcome) (*ReconcileResult, error)
	// Verify asks the provider for the state of a payment and reconciles it.
	Verify(ctx context.Context, reference string) (*ReconcileResult, error)
	GetInvoice(ctx context.Context, id snowflake.ID) (*InvoiceDetail, error)
	FindPayment(ctx context.Context, reference string) (*Payment, error)
	ListStalePending(ctx context.Context, olderThan, youngerThan time.Duration, limit int) ([]Payment, error)
	MarkOverdue(ctx context.Context) (int64, error)
}
