package domain

import "errors"

var (
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrInvoiceAlreadyPaid = errors.New("invoice_already_paid")
	ErrInvalidLineItems   = errors.New("invalid_line_items")
	ErrInvalidPayer       = errors.New("invalid_payer")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidReference   = errors.New("invalid_reference")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	ErrAlreadyReconciled  = errors.New("already_reconciled")
	ErrPaymentFailed      = errors.New("payment_failed")
	ErrForbidden          = errors.New("forbidden")
)
