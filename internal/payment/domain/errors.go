package domain

import "errors"

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidConfig         = errors.New("invalid_provider_config")
	ErrProviderUnavailable   = errors.New("provider_unavailable")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrMalformedNotification = errors.New("malformed_notification")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrOutcomePending        = errors.New("outcome_pending")
	ErrInvalidIntent         = errors.New("invalid_payment_intent")
)
