package domain

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderPaystack = "paystack"
	ProviderMpesa    = "mpesa"
)

// Intent is a provider-neutral request to collect money.
type Intent struct {
	Reference   string
	Amount      int64
	Currency    string
	PayerEmail  string
	PayerPhone  string
	Description string
	CallbackURL string
	Metadata    map[string]string
}

// Pending is what a provider hands back after accepting an intent.
type Pending struct {
	ProviderReference string
	RedirectURL       string
	AccessCode        string
	MerchantRequestID string
	CustomerMessage   string
}

// Notification is a raw inbound provider callback.
type Notification struct {
	Payload []byte
	Headers http.Header
	Query   url.Values
}

// Outcome is the provider-neutral result of a payment attempt.
type Outcome struct {
	Provider          string
	Reference         string
	ProviderReference string
	EventType         string
	Succeeded         bool
	// AmountPaid is the amount the provider reported, also on failures.
	AmountPaid    int64
	Currency      string
	Channel       string
	TransactionID string
	PaidAt        time.Time
	PayerEmail    string
	PayerPhone    string
	FailureReason string
}

// LookupKey is the identifier the ledger should resolve the payment by.
func (o Outcome) LookupKey() string {
	if ref := strings.TrimSpace(o.Reference); ref != "" {
		return ref
	}
	return strings.TrimSpace(o.ProviderReference)
}

// Lookup identifies a payment when asking a provider for its status.
type Lookup struct {
	Reference         string
	ProviderReference string
	ExpectedAmount    int64
	Currency          string
}

//go:generate mockgen -destination=mock/adapter_mock.go -package=mock . Adapter

type Adapter interface {
	Provider() string
	// Initiate asks the provider to start collecting. Auth or network
	// failures return ErrProviderUnavailable.
	Initiate(ctx context.Context, intent Intent) (*Pending, error)
	// Verify authenticates a raw notification before it is decoded.
	Verify(ctx context.Context, n Notification) error
	// Decode maps a notification to an Outcome. Missing fields return
	// ErrMalformedNotification; unhandled event types ErrEventIgnored.
	Decode(ctx context.Context, n Notification) (*Outcome, error)
	// Fetch queries the provider for the current state. ErrOutcomePending
	// while the provider has no final answer.
	Fetch(ctx context.Context, lookup Lookup) (*Outcome, error)
}

// Acknowledger is implemented by adapters whose provider expects a specific
// response body on webhook delivery.
type Acknowledger interface {
	Ack() any
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
