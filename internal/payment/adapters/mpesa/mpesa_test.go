package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
)

var fixedNow = time.Date(2026, 2, 1, 7, 30, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	factory := NewFactoryWithClient(http.DefaultClient, func() time.Time { return fixedNow })
	adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{
		"consumer_key":    "ck",
		"consumer_secret": "cs",
		"shortcode":       "174379",
		"passkey":         "pk",
		"callback_url":    "https://swim.example.com/api/webhooks/mpesa",
		"callback_token":  "s3cret",
		"base_url":        baseURL,
	}})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter.(*Adapter)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":    "254712345678",
		"+254712345678": "254712345678",
		"254712345678":  "254712345678",
		"712345678":     "254712345678",
		"0712 345 678":  "254712345678",
		"":              "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVerifyCallbackToken(t *testing.T) {
	adapter := newTestAdapter(t, "")

	ok := paymentdomain.Notification{Query: url.Values{"token": []string{"s3cret"}}}
	if err := adapter.Verify(context.Background(), ok); err != nil {
		t.Fatalf("expected token accepted, got %v", err)
	}

	bad := paymentdomain.Notification{Query: url.Values{"token": []string{"nope"}}}
	if err := adapter.Verify(context.Background(), bad); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	if err := adapter.Verify(context.Background(), paymentdomain.Notification{}); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing token to fail, got %v", err)
	}
}

func TestDecodeSuccess(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":7000.00},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"TransactionDate","Value":20260201103000},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

	outcome, err := adapter.Decode(context.Background(), paymentdomain.Notification{Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !outcome.Succeeded || outcome.AmountPaid != 700000 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.ProviderReference != "ws_CO_191220191020363925" || outcome.LookupKey() != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected provider reference %q", outcome.ProviderReference)
	}
	if outcome.TransactionID != "NLJ7RT61SV" || outcome.PayerPhone != "254712345678" {
		t.Fatalf("unexpected metadata %+v", outcome)
	}
	want := time.Date(2026, 2, 1, 7, 30, 0, 0, time.UTC)
	if !outcome.PaidAt.Equal(want) {
		t.Fatalf("expected paid_at %v, got %v", want, outcome.PaidAt)
	}
}

func TestDecodeFailureAndMalformed(t *testing.T) {
	adapter := newTestAdapter(t, "")

	cancelled := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	outcome, err := adapter.Decode(context.Background(), paymentdomain.Notification{Payload: []byte(cancelled)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Succeeded || outcome.FailureReason != "Request cancelled by user" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	malformed := []string{
		`{}`,
		`{"Body":{"stkCallback":{"ResultCode":0}}}`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2"}}}`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_3","ResultCode":0,"CallbackMetadata":{"Item":[]}}}}`,
		`garbage`,
	}
	for _, payload := range malformed {
		if _, err := adapter.Decode(context.Background(), paymentdomain.Notification{Payload: []byte(payload)}); !errors.Is(err, paymentdomain.ErrMalformedNotification) {
			t.Fatalf("payload %s: expected malformed, got %v", payload, err)
		}
	}
}

func TestInitiateSTKPush(t *testing.T) {
	var tokenCalls int32
	var got stkPushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			atomic.AddInt32(&tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			if !ok || user != "ck" || pass != "cs" {
				t.Errorf("unexpected basic auth")
			}
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case "/mpesa/stkpush/v1/processrequest":
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("missing bearer token")
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_9","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Success. Request accepted for processing"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	intent := paymentdomain.Intent{Reference: "REG-1", Amount: 700050, Currency: "KES", PayerPhone: "0712345678"}

	pending, err := adapter.Initiate(context.Background(), intent)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if pending.ProviderReference != "ws_CO_9" || pending.MerchantRequestID != "m-1" {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if got.Amount != 7001 {
		t.Fatalf("expected amount rounded up to 7001, got %d", got.Amount)
	}
	if got.PhoneNumber != "254712345678" || got.PartyA != "254712345678" {
		t.Fatalf("unexpected phone %q", got.PhoneNumber)
	}
	if got.Timestamp != "20260201103000" {
		t.Fatalf("expected EAT timestamp, got %s", got.Timestamp)
	}
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "pk" + "20260201103000"))
	if got.Password != wantPassword {
		t.Fatalf("unexpected password")
	}
	callback, err := url.Parse(got.CallBackURL)
	if err != nil || callback.Query().Get("token") != "s3cret" {
		t.Fatalf("callback url must carry the token, got %s", got.CallBackURL)
	}

	if _, err := adapter.Initiate(context.Background(), intent); err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Fatalf("expected cached oauth token, got %d token calls", tokenCalls)
	}
}

func TestInitiateRejectsBadPhone(t *testing.T) {
	adapter := newTestAdapter(t, "")
	_, err := adapter.Initiate(context.Background(), paymentdomain.Intent{Reference: "REG-1", Amount: 100, PayerPhone: "12"})
	if !errors.Is(err, paymentdomain.ErrInvalidIntent) {
		t.Fatalf("expected invalid intent, got %v", err)
	}
}

func TestInitiateOAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Initiate(context.Background(), paymentdomain.Intent{Reference: "REG-1", Amount: 100, PayerPhone: "0712345678"})
	if !errors.Is(err, paymentdomain.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		succeeded bool
	}{
		{name: "success", status: 200, body: `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`, succeeded: true},
		{name: "cancelled", status: 200, body: `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`},
		{name: "in flight", status: 500, body: `{"requestId":"r","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`, wantErr: paymentdomain.ErrOutcomePending},
		{name: "other error", status: 500, body: `{"errorCode":"500.003.02","errorMessage":"System busy"}`, wantErr: paymentdomain.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/v1/generate" {
					_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
					return
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			outcome, err := newTestAdapter(t, server.URL).Fetch(context.Background(), paymentdomain.Lookup{
				Reference:         "REG-1",
				ProviderReference: "ws_CO_9",
				ExpectedAmount:    350000,
				Currency:          "KES",
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if outcome.Succeeded != tc.succeeded {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
			if tc.succeeded && outcome.AmountPaid != 350000 {
				t.Fatalf("expected echoed amount, got %d", outcome.AmountPaid)
			}
		})
	}
}

func TestAck(t *testing.T) {
	ack, ok := newTestAdapter(t, "").Ack().(map[string]any)
	if !ok || ack["ResultCode"] != 0 || ack["ResultDesc"] != "Accepted" {
		t.Fatalf("unexpected ack %#v", ack)
	}
}
