package guard

import (
	"errors"

	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
)

var (
	ErrPaymentNotPending   = errors.New("payment_not_pending")
	ErrPaymentFlagged      = errors.New("payment_flagged")
	ErrNoProviderReference = errors.New("payment_missing_provider_reference")
)

// EnsureSweepable reports whether the stale-payment sweep may ask the
// provider about payment.
func EnsureSweepable(payment ledgerdomain.Payment) error {
	if payment.Status != ledgerdomain.PaymentStatusPending {
		return ErrPaymentNotPending
	}
	if payment.FlaggedAt != nil {
		return ErrPaymentFlagged
	}
	if payment.ProviderReference == nil || *payment.ProviderReference == "" {
		return ErrNoProviderReference
	}
	return nil
}
