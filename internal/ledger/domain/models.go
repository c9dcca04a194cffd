// Package domain holds invoices, payments and the correlation record that
// ties a payment back to the registration it pays for.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "draft"
	InvoiceStatusIssued InvoiceStatus = "issued"
	InvoiceStatusDue    InvoiceStatus = "due"
	InvoiceStatusPaid   InvoiceStatus = "paid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeInvoicePayment Purpose = "invoice_payment"
)

type Invoice struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	OwnerID              *snowflake.ID `json:"owner_id,omitempty"`
	SwimmerID            *snowflake.ID `json:"swimmer_id,omitempty"`
	PayerEmail           string        `json:"payer_email" gorm:"type:text;not null"`
	Status               InvoiceStatus `json:"status" gorm:"type:text;not null"`
	TotalAmount          int64         `json:"total_amount" gorm:"not null"`
	Currency             string        `json:"currency" gorm:"type:text;not null"`
	PaymentMethod        string        `json:"payment_method" gorm:"type:text;not null"`
	Description          string        `json:"description" gorm:"type:text;not null"`
	DueDate              time.Time     `json:"due_date" gorm:"not null"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	TransactionReference *string       `json:"transaction_reference,omitempty" gorm:"type:text"`
	CreatedAt            time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time     `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

type LineItem struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID  `json:"invoice_id" gorm:"not null;index"`
	SwimmerID   *snowflake.ID `json:"swimmer_id,omitempty"`
	Description string        `json:"description" gorm:"type:text;not null"`
	UnitAmount  int64         `json:"unit_amount" gorm:"not null"`
	Quantity    int64         `json:"quantity" gorm:"not null"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null"`
}

func (LineItem) TableName() string { return "invoice_line_items" }

// Amount is the line total.
func (l LineItem) Amount() int64 {
	return l.UnitAmount * l.Quantity
}

type Payment struct {
	ID                    snowflake.ID                    `json:"id" gorm:"primaryKey"`
	InvoiceID             snowflake.ID                    `json:"invoice_id" gorm:"not null;index"`
	Provider              string                          `json:"provider" gorm:"type:text;not null"`
	Reference             string                          `json:"reference" gorm:"type:text;not null"`
	ProviderReference     *string                         `json:"provider_reference,omitempty" gorm:"type:text"`
	Status                PaymentStatus                   `json:"status" gorm:"type:text;not null"`
	Amount                int64                           `json:"amount" gorm:"not null"`
	Currency              string                          `json:"currency" gorm:"type:text;not null"`
	PhoneNumber           *string                         `json:"phone_number,omitempty" gorm:"type:text"`
	Correlation           datatypes.JSONType[Correlation] `json:"correlation" gorm:"type:jsonb;not null"`
	ProviderTransactionID *string                         `json:"provider_transaction_id,omitempty" gorm:"type:text"`
	Channel               *string                         `json:"channel,omitempty" gorm:"type:text"`
	FailureReason         *string                         `json:"failure_reason,omitempty" gorm:"type:text"`
	FlagReason            *string                         `json:"flag_reason,omitempty" gorm:"type:text"`
	FlaggedAt             *time.Time                      `json:"flagged_at,omitempty"`
	PaidAt                *time.Time                      `json:"paid_at,omitempty"`
	CreatedAt             time.Time                       `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time                       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// Correlation records what a payment pays for. It is written once when the
// payment is opened and extended with provider handles after initiation.
type Correlation struct {
	Purpose    Purpose              `json:"purpose"`
	SwimmerIDs []snowflake.ID       `json:"swimmer_ids,omitempty"`
	PayerEmail string               `json:"payer_email,omitempty"`
	Payer      *PayerProfile        `json:"payer,omitempty"`
	Paystack   *PaystackCorrelation `json:"paystack,omitempty"`
	Mpesa      *MpesaCorrelation    `json:"mpesa,omitempty"`
}

type PayerProfile struct {
	FullName                     string `json:"full_name"`
	Email                        string `json:"email"`
	Phone                        string `json:"phone,omitempty"`
	Relationship                 string `json:"relationship,omitempty"`
	EmergencyContactName         string `json:"emergency_contact_name,omitempty"`
	EmergencyContactRelationship string `json:"emergency_contact_relationship,omitempty"`
	EmergencyContactPhone        string `json:"emergency_contact_phone,omitempty"`
}

type PaystackCorrelation struct {
	AccessCode       string `json:"access_code"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

type MpesaCorrelation struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	Phone             string `json:"phone,omitempty"`
}

// InvoiceDetail is an invoice with its line items and payment attempts.
type InvoiceDetail struct {
	Invoice
	LineItems []LineItem `json:"line_items"`
	Payments  []Payment  `json:"payments"`
}
