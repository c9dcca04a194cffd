package mpesa

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/pkg/money"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// ResultCode returned by the STK query while the customer has not acted.
	inFlightErrorCode = "500.001.1001"

	defaultAccountReference = "Otters Kenya"
	defaultTransactionDesc  = "Swimmer Registration"
)

// Daraja expects timestamps in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type Factory struct {
	client *http.Client
	now    func() time.Time
}

func NewFactory() *Factory {
	return &Factory{client: &http.Client{Timeout: 30 * time.Second}, now: time.Now}
}

func NewFactoryWithClient(client *http.Client, now func() time.Time) *Factory {
	if now == nil {
		now = time.Now
	}
	return &Factory{client: client, now: now}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderMpesa
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	required := map[string]string{}
	for _, key := range []string{"consumer_key", "consumer_secret", "shortcode", "passkey", "callback_url", "callback_token"} {
		value, ok := adapters.ReadString(cfg.Config, key)
		if !ok {
			return nil, fmt.Errorf("%w: %s is required", paymentdomain.ErrInvalidConfig, key)
		}
		required[key] = value
	}

	baseURL, ok := adapters.ReadString(cfg.Config, "base_url")
	if !ok {
		baseURL = sandboxBaseURL
		if env, _ := adapters.ReadString(cfg.Config, "environment"); strings.EqualFold(env, "production") {
			baseURL = productionBaseURL
		}
	}
	accountReference, ok := adapters.ReadString(cfg.Config, "account_reference")
	if !ok {
		accountReference = defaultAccountReference
	}

	client := f.client
	if client == nil {
		client = http.DefaultClient
	}
	now := f.now
	if now == nil {
		now = time.Now
	}

	return &Adapter{
		consumerKey:      required["consumer_key"],
		consumerSecret:   required["consumer_secret"],
		shortcode:        required["shortcode"],
		passkey:          required["passkey"],
		callbackURL:      required["callback_url"],
		callbackToken:    required["callback_token"],
		accountReference: accountReference,
		baseURL:          strings.TrimRight(baseURL, "/"),
		client:           client,
		now:              now,
	}, nil
}

type Adapter struct {
	consumerKey      string
	consumerSecret   string
	shortcode        string
	passkey          string
	callbackURL      string
	callbackToken    string
	accountReference string
	baseURL          string
	client           *http.Client
	now              func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderMpesa
}

// Ack is the body Daraja expects on every callback delivery.
func (a *Adapter) Ack() any {
	return map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}
}

func (a *Adapter) Initiate(ctx context.Context, intent paymentdomain.Intent) (*paymentdomain.Pending, error) {
	phone := NormalizePhone(intent.PayerPhone)
	if strings.TrimSpace(intent.Reference) == "" || intent.Amount <= 0 || len(phone) != 12 {
		return nil, paymentdomain.ErrInvalidIntent
	}

	callbackURL, err := a.signedCallbackURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidConfig, err)
	}

	timestamp, password := a.password()
	description := intent.Description
	if description == "" {
		description = defaultTransactionDesc
	}
	body := stkPushRequest{
		BusinessShortCode: a.shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            money.WholeUnits(intent.Amount),
		PartyA:            phone,
		PartyB:            a.shortcode,
		PhoneNumber:       phone,
		CallBackURL:       callbackURL,
		AccountReference:  a.accountReference,
		TransactionDesc:   description,
	}

	var resp stkPushResponse
	if err := a.do(ctx, "/mpesa/stkpush/v1/processrequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, resp.ResponseDescription)
	}
	return &paymentdomain.Pending{
		ProviderReference: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// Verify compares the token carried on the registered callback URL.
func (a *Adapter) Verify(_ context.Context, n paymentdomain.Notification) error {
	token := strings.TrimSpace(n.Query.Get("token"))
	if token == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.callbackToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Decode(_ context.Context, n paymentdomain.Notification) (*paymentdomain.Outcome, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(n.Payload, &envelope); err != nil {
		return nil, paymentdomain.ErrMalformedNotification
	}
	cb := envelope.Body.StkCallback
	if cb == nil || strings.TrimSpace(cb.CheckoutRequestID) == "" || cb.ResultCode == nil {
		return nil, paymentdomain.ErrMalformedNotification
	}

	outcome := &paymentdomain.Outcome{
		Provider:          paymentdomain.ProviderMpesa,
		ProviderReference: strings.TrimSpace(cb.CheckoutRequestID),
		EventType:         "stk_callback",
		Currency:          "KES",
		Channel:           "mpesa",
	}

	if *cb.ResultCode != 0 {
		outcome.FailureReason = strings.TrimSpace(cb.ResultDesc)
		if outcome.FailureReason == "" {
			outcome.FailureReason = fmt.Sprintf("result_code_%d", *cb.ResultCode)
		}
		return outcome, nil
	}

	items := map[string]json.RawMessage{}
	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			items[item.Name] = item.Value
		}
	}
	amount, ok := items["Amount"]
	if !ok {
		return nil, paymentdomain.ErrMalformedNotification
	}
	major, err := decimal.NewFromString(strings.Trim(string(amount), `"`))
	if err != nil {
		return nil, paymentdomain.ErrMalformedNotification
	}

	outcome.Succeeded = true
	outcome.AmountPaid = money.FromMajor(major)
	outcome.TransactionID = rawString(items["MpesaReceiptNumber"])
	outcome.PayerPhone = rawString(items["PhoneNumber"])
	if ts := rawString(items["TransactionDate"]); ts != "" {
		if paidAt, err := time.ParseInLocation("20060102150405", ts, eat); err == nil {
			outcome.PaidAt = paidAt.UTC()
		}
	}
	return outcome, nil
}

func (a *Adapter) Fetch(ctx context.Context, lookup paymentdomain.Lookup) (*paymentdomain.Outcome, error) {
	checkoutID := strings.TrimSpace(lookup.ProviderReference)
	if checkoutID == "" {
		return nil, paymentdomain.ErrInvalidIntent
	}

	timestamp, password := a.password()
	body := stkQueryRequest{
		BusinessShortCode: a.shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutID,
	}

	var resp stkQueryResponse
	err := a.do(ctx, "/mpesa/stkpushquery/v1/query", body, &resp)
	if err != nil {
		var apiErr *darajaError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == inFlightErrorCode {
			return nil, paymentdomain.ErrOutcomePending
		}
		return nil, err
	}

	resultCode := strings.TrimSpace(resp.ResultCode.String())
	if resultCode == "" {
		return nil, paymentdomain.ErrOutcomePending
	}

	outcome := &paymentdomain.Outcome{
		Provider:          paymentdomain.ProviderMpesa,
		Reference:         strings.TrimSpace(lookup.Reference),
		ProviderReference: checkoutID,
		EventType:         "stk_query",
		Currency:          "KES",
		Channel:           "mpesa",
	}
	if resultCode != "0" {
		outcome.FailureReason = strings.TrimSpace(resp.ResultDesc)
		return outcome, nil
	}
	// The query reports no amount; echo what we asked for.
	outcome.Succeeded = true
	outcome.AmountPaid = lookup.ExpectedAmount
	outcome.Currency = strings.ToUpper(strings.TrimSpace(lookup.Currency))
	if outcome.Currency == "" {
		outcome.Currency = "KES"
	}
	return outcome, nil
}

func (a *Adapter) signedCallbackURL() (string, error) {
	u, err := url.Parse(a.callbackURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", a.callbackToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Adapter) password() (string, string) {
	timestamp := a.now().In(eat).Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(a.shortcode + a.passkey + timestamp))
	return timestamp, password
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.consumerKey, a.consumerSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: mpesa oauth status %d", paymentdomain.ErrProviderUnavailable, resp.StatusCode)
	}

	var token struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil || token.AccessToken == "" {
		return "", fmt.Errorf("%w: mpesa oauth response", paymentdomain.ErrProviderUnavailable)
	}

	ttl := time.Hour
	if secs, err := token.ExpiresIn.Int64(); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	a.token = token.AccessToken
	// refresh a minute early
	a.tokenExpiry = a.now().Add(ttl - time.Minute)
	return a.token, nil
}

func (a *Adapter) do(ctx context.Context, path string, body any, out any) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &darajaError{Status: resp.StatusCode}
		_ = json.Unmarshal(payload, apiErr)
		return apiErr
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	return nil
}

// NormalizePhone converts Kenyan numbers to the 2547XXXXXXXX form Daraja wants.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "254"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case digits == "":
		return ""
	default:
		return "254" + digits
	}
}

type darajaError struct {
	Status       int    `json:"-"`
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *darajaError) Error() string {
	return fmt.Sprintf("mpesa %d %s %s", e.Status, e.ErrorCode, e.ErrorMessage)
}

func (e *darajaError) Unwrap() error {
	return paymentdomain.ErrProviderUnavailable
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode string      `json:"ResponseCode"`
	ResultCode   json.Number `json:"ResultCode"`
	ResultDesc   string      `json:"ResultDesc"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        *int   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []struct {
			Name  string          `json:"Name"`
			Value json.RawMessage `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}
