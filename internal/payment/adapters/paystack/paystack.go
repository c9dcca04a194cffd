package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
)

const (
	defaultBaseURL  = "https://api.paystack.co"
	signatureHeader = "x-paystack-signature"
)

type Factory struct {
	client *http.Client
}

func NewFactory() *Factory {
	return &Factory{client: &http.Client{Timeout: 20 * time.Second}}
}

// NewFactoryWithClient is used by tests to point at an httptest server.
func NewFactoryWithClient(client *http.Client) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderPaystack
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret, ok := adapters.ReadString(cfg.Config, "secret_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL, ok := adapters.ReadString(cfg.Config, "base_url")
	if !ok {
		baseURL = defaultBaseURL
	}
	client := f.client
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{
		secretKey: secret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
	}, nil
}

type Adapter struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderPaystack
}

func (a *Adapter) Initiate(ctx context.Context, intent paymentdomain.Intent) (*paymentdomain.Pending, error) {
	if strings.TrimSpace(intent.Reference) == "" || intent.Amount <= 0 || strings.TrimSpace(intent.PayerEmail) == "" {
		return nil, paymentdomain.ErrInvalidIntent
	}

	metadata := map[string]any{}
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	description := intent.Description
	if description == "" {
		description = "Swimmer Registration"
	}
	metadata["custom_fields"] = []map[string]string{{
		"display_name":  "Payment For",
		"variable_name": "payment_for",
		"value":         description,
	}}

	body := initializeRequest{
		Email:       intent.PayerEmail,
		Amount:      intent.Amount,
		Reference:   intent.Reference,
		Currency:    strings.ToUpper(intent.Currency),
		Metadata:    metadata,
		CallbackURL: intent.CallbackURL,
		Channels:    []string{"card", "mobile_money", "bank_transfer"},
	}

	var resp initializeResponse
	if err := a.do(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.AccessCode == "" {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, resp.Message)
	}
	return &paymentdomain.Pending{
		ProviderReference: resp.Data.AccessCode,
		AccessCode:        resp.Data.AccessCode,
		RedirectURL:       resp.Data.AuthorizationURL,
	}, nil
}

// Verify checks the HMAC-SHA512 of the raw body against x-paystack-signature.
func (a *Adapter) Verify(_ context.Context, n paymentdomain.Notification) error {
	signature := strings.TrimSpace(n.Headers.Get(signatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(a.secretKey))
	_, _ = mac.Write(n.Payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Decode(_ context.Context, n paymentdomain.Notification) (*paymentdomain.Outcome, error) {
	var event webhookEvent
	if err := json.Unmarshal(n.Payload, &event); err != nil {
		return nil, paymentdomain.ErrMalformedNotification
	}

	var succeeded bool
	switch strings.TrimSpace(event.Event) {
	case "charge.success":
		succeeded = true
	case "charge.failed":
		succeeded = false
	case "":
		return nil, paymentdomain.ErrMalformedNotification
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	if event.Data == nil {
		return nil, paymentdomain.ErrMalformedNotification
	}
	outcome, err := event.Data.outcome(succeeded)
	if err != nil {
		return nil, err
	}
	outcome.EventType = event.Event
	return outcome, nil
}

func (a *Adapter) Fetch(ctx context.Context, lookup paymentdomain.Lookup) (*paymentdomain.Outcome, error) {
	reference := strings.TrimSpace(lookup.Reference)
	if reference == "" {
		return nil, paymentdomain.ErrInvalidIntent
	}

	var resp verifyResponse
	if err := a.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, resp.Message)
	}

	switch strings.ToLower(strings.TrimSpace(resp.Data.Status)) {
	case "success":
		return resp.Data.outcome(true)
	case "failed", "reversed":
		return resp.Data.outcome(false)
	default:
		// abandoned, ongoing, pending, processing, queued
		return nil, paymentdomain.ErrOutcomePending
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("%w: paystack %d %s", paymentdomain.ErrProviderUnavailable, resp.StatusCode, apiErr.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	return nil
}

type initializeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Reference   string         `json:"reference"`
	Currency    string         `json:"currency,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Channels    []string       `json:"channels,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Data    *transaction `json:"data"`
}

type webhookEvent struct {
	Event string       `json:"event"`
	Data  *transaction `json:"data"`
}

type transaction struct {
	ID              json.Number `json:"id"`
	Status          string      `json:"status"`
	Reference       string      `json:"reference"`
	Amount          *int64      `json:"amount"`
	Currency        string      `json:"currency"`
	Channel         string      `json:"channel"`
	PaidAt          string      `json:"paid_at"`
	GatewayResponse string      `json:"gateway_response"`
	Customer        struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
}

func (t *transaction) outcome(succeeded bool) (*paymentdomain.Outcome, error) {
	reference := strings.TrimSpace(t.Reference)
	if reference == "" {
		return nil, paymentdomain.ErrMalformedNotification
	}
	if succeeded && t.Amount == nil {
		return nil, paymentdomain.ErrMalformedNotification
	}

	outcome := &paymentdomain.Outcome{
		Provider:      paymentdomain.ProviderPaystack,
		Reference:     reference,
		Succeeded:     succeeded,
		Currency:      strings.ToUpper(strings.TrimSpace(t.Currency)),
		Channel:       strings.TrimSpace(t.Channel),
		TransactionID: t.ID.String(),
		PayerEmail:    strings.TrimSpace(t.Customer.Email),
		PayerPhone:    strings.TrimSpace(t.Customer.Phone),
	}
	if t.Amount != nil {
		outcome.AmountPaid = *t.Amount
	}
	if paidAt, err := time.Parse(time.RFC3339, strings.TrimSpace(t.PaidAt)); err == nil {
		outcome.PaidAt = paidAt.UTC()
	}
	if !succeeded {
		outcome.FailureReason = strings.TrimSpace(t.GatewayResponse)
		if outcome.FailureReason == "" {
			outcome.FailureReason = "payment_failed"
		}
	}
	return outcome, nil
}
