package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"
	accountdomain "github.com/smallbiznis/swimreg/internal/account/domain"
	"github.com/smallbiznis/swimreg/internal/authorization"
	"github.com/smallbiznis/swimreg/internal/config"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	linkerdomain "github.com/smallbiznis/swimreg/internal/linker/domain"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/internal/ratelimit"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAccounts struct {
	accounts map[string]*accountdomain.Account
	created  map[string]bool
}

func (f *fakeAccounts) Ensure(_ context.Context, identity accountdomain.Identity) (*accountdomain.Account, bool, error) {
	account, ok := f.accounts[identity.Subject]
	if !ok {
		return nil, false, accountdomain.ErrAccountNotFound
	}
	created := f.created[identity.Subject]
	f.created[identity.Subject] = false
	return account, created, nil
}

func (f *fakeAccounts) Get(_ context.Context, id snowflake.ID) (*accountdomain.Account, error) {
	for _, account := range f.accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return nil, accountdomain.ErrAccountNotFound
}

// ownerAuthorizer grants admins read access to everything and everyone
// else access to their own records.
type ownerAuthorizer struct{}

func (ownerAuthorizer) Authorize(_ context.Context, actor authorization.Actor, _ string, action string, ownerID *snowflake.ID) error {
	if actor.Role == string(accountdomain.RoleAdmin) && action == authorization.ActionView {
		return nil
	}
	if ownerID != nil && *ownerID == actor.AccountID {
		return nil
	}
	return authorization.ErrForbidden
}

type fakeLinker struct {
	calls []snowflake.ID
}

func (f *fakeLinker) Link(_ context.Context, accountID snowflake.ID, _ string) (*linkerdomain.LinkResult, error) {
	f.calls = append(f.calls, accountID)
	return &linkerdomain.LinkResult{Invoices: 1, Swimmers: 2, Consents: 2}, nil
}

type fakeLedger struct {
	ledgerdomain.Service

	invoices  map[snowflake.ID]*ledgerdomain.InvoiceDetail
	verify    *ledgerdomain.ReconcileResult
	verifyErr error
}

func (f *fakeLedger) Verify(context.Context, string) (*ledgerdomain.ReconcileResult, error) {
	return f.verify, f.verifyErr
}

func (f *fakeLedger) GetInvoice(_ context.Context, id snowflake.ID) (*ledgerdomain.InvoiceDetail, error) {
	detail, ok := f.invoices[id]
	if !ok {
		return nil, ledgerdomain.ErrInvoiceNotFound
	}
	return detail, nil
}

type fakeRegistrations struct {
	result *ledgerdomain.PaymentResult
	err    error
	last   registrationdomain.SubmitRequest
}

func (f *fakeRegistrations) Submit(_ context.Context, req registrationdomain.SubmitRequest) (*ledgerdomain.PaymentResult, error) {
	f.last = req
	return f.result, f.err
}

func (f *fakeRegistrations) ListSwimmers(context.Context, snowflake.ID) ([]registrationdomain.Swimmer, error) {
	return nil, nil
}

type fakeReceipts struct {
	receiptdomain.Service
}

func (fakeReceipts) GetForInvoice(_ context.Context, invoiceID snowflake.ID) (*receiptdomain.Receipt, error) {
	return &receiptdomain.Receipt{InvoiceID: invoiceID, ReceiptNumber: "RCP-2026-000003"}, nil
}

func (fakeReceipts) RenderPDF(context.Context, *receiptdomain.Receipt) ([]byte, error) {
	return []byte("%PDF-1.4 test"), nil
}

func (fakeReceipts) DownloadName(*receiptdomain.Receipt) string {
	return "receipt-rcp-2026-000003.pdf"
}

type fakeWebhooks struct {
	result *paymentdomain.WebhookResult
	err    error
}

func (f *fakeWebhooks) Ingest(context.Context, string, paymentdomain.Notification) (*paymentdomain.WebhookResult, error) {
	return f.result, f.err
}

type testHarness struct {
	engine        *gin.Engine
	accounts      *fakeAccounts
	linker        *fakeLinker
	ledger        *fakeLedger
	registrations *fakeRegistrations
	webhooks      *fakeWebhooks
}

func newHarness(t *testing.T, limiter *ratelimit.PublicLimiter) *testHarness {
	t.Helper()
	h := &testHarness{
		accounts: &fakeAccounts{
			accounts: map[string]*accountdomain.Account{
				"parent-1": {ID: 101, Subject: "parent-1", Email: "jane@example.com", Role: accountdomain.RoleParent},
				"parent-2": {ID: 102, Subject: "parent-2", Email: "otieno@example.com", Role: accountdomain.RoleParent},
				"admin-1":  {ID: 900, Subject: "admin-1", Email: "coach@otterskenya.org", Role: accountdomain.RoleAdmin},
			},
			created: map[string]bool{"parent-1": true},
		},
		linker:        &fakeLinker{},
		ledger:        &fakeLedger{invoices: map[snowflake.ID]*ledgerdomain.InvoiceDetail{}},
		registrations: &fakeRegistrations{},
		webhooks:      &fakeWebhooks{},
	}

	owner := snowflake.ID(101)
	h.ledger.invoices[555] = &ledgerdomain.InvoiceDetail{
		Invoice: ledgerdomain.Invoice{ID: 555, OwnerID: &owner, Status: ledgerdomain.InvoiceStatusPaid},
	}

	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: testSecret, CookieName: "swimreg_session"}}
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		Log:             zap.NewNop(),
		Tokens:          NewTokenVerifier(cfg),
		AccountSvc:      h.accounts,
		AuthzSvc:        ownerAuthorizer{},
		LinkerSvc:       h.linker,
		LedgerSvc:       h.ledger,
		RegistrationSvc: h.registrations,
		ReceiptSvc:      fakeReceipts{},
		WebhookSvc:      h.webhooks,
		PublicLimiter:   limiter,
	})
	h.engine = engine
	return h
}

func signToken(t *testing.T, subject, email string) string {
	t.Helper()
	claims := Claims{
		Email: email,
		Name:  "Test Parent",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func (h *testHarness) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestWebhookStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		result     *paymentdomain.WebhookResult
		err        error
		wantStatus int
		wantBody   string
	}{
		{"bad_signature", nil, paymentdomain.ErrInvalidSignature, http.StatusUnauthorized, `"unauthorized"`},
		{"unknown_provider", nil, paymentdomain.ErrProviderNotFound, http.StatusNotFound, `"not_found"`},
		{"mpesa_ack", &paymentdomain.WebhookResult{Ack: map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}}, nil, http.StatusOK, `"ResultDesc":"Accepted"`},
		{"anomaly_absorbed", &paymentdomain.WebhookResult{Outcome: "amount_mismatch"}, nil, http.StatusOK, `"status":"ok"`},
		{"infra_error", nil, fmt.Errorf("db down"), http.StatusInternalServerError, `"internal_error"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.webhooks.result, h.webhooks.err = tc.result, tc.err

			rec := h.do(t, http.MethodPost, "/api/webhooks/mpesa?token=abc", map[string]any{"Body": map[string]any{}}, "")
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}

func TestVerifyPaymentStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		result     *ledgerdomain.ReconcileResult
		err        error
		wantStatus int
		wantType   string
	}{
		{"pending", nil, paymentdomain.ErrOutcomePending, http.StatusAccepted, ""},
		{"failed", &ledgerdomain.ReconcileResult{PaymentStatus: ledgerdomain.PaymentStatusFailed}, nil, http.StatusPaymentRequired, "payment_failed"},
		{"mismatch", nil, fmt.Errorf("%w: expected 700000", ledgerdomain.ErrAmountMismatch), http.StatusConflict, "amount_mismatch"},
		{"unknown", nil, ledgerdomain.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.ledger.verify, h.ledger.verifyErr = tc.result, tc.err

			rec := h.do(t, http.MethodPost, "/api/payments/verify", map[string]string{"reference": "REG-01J"}, "")
			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantType != "" {
				assert.Equal(t, tc.wantType, decodeError(t, rec).Type)
			}
		})
	}
}

func TestVerifyPaymentCompleted(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.verify = &ledgerdomain.ReconcileResult{
		InvoiceID:     555,
		PaymentStatus: ledgerdomain.PaymentStatusCompleted,
		InvoiceStatus: ledgerdomain.InvoiceStatusPaid,
		ReceiptNumber: "RCP-2026-000003",
	}

	rec := h.do(t, http.MethodPost, "/api/payments/verify", map[string]string{"reference": "REG-01J"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RCP-2026-000003", body["receipt_number"])
	assert.Equal(t, "paid", body["invoice_status"])
	assert.Equal(t, "555", body["invoice_id"])
}

func TestVerifyPaymentRequiresReference(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/payments/verify", map[string]string{"reference": " "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRegistration(t *testing.T) {
	t.Run("validation_error", func(t *testing.T) {
		h := newHarness(t, nil)
		h.registrations.err = registrationdomain.ErrConsentRequired

		rec := h.do(t, http.MethodPost, "/api/registrations", map[string]any{"payment_option": "pay_now"}, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		payload := decodeError(t, rec)
		require.Len(t, payload.Errors, 1)
		assert.Equal(t, "consent_required", payload.Errors[0].Code)
	})

	t.Run("pay_later", func(t *testing.T) {
		h := newHarness(t, nil)
		h.registrations.result = &ledgerdomain.PaymentResult{InvoiceID: 777, InvoiceStatus: ledgerdomain.InvoiceStatusIssued}

		rec := h.do(t, http.MethodPost, "/api/registrations", map[string]any{"payment_option": "pay_later"}, "")
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"issued"`)
		assert.Nil(t, h.registrations.last.OwnerID, "anonymous submission")
	})

	t.Run("signed_in_owner", func(t *testing.T) {
		h := newHarness(t, nil)
		paymentID := snowflake.ID(778)
		h.registrations.result = &ledgerdomain.PaymentResult{InvoiceID: 777, PaymentID: &paymentID, Reference: "REG-01J"}

		rec := h.do(t, http.MethodPost, "/api/registrations", map[string]any{"payment_option": "pay_now"}, signToken(t, "parent-2", "otieno@example.com"))
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, h.registrations.last.OwnerID)
		assert.Equal(t, snowflake.ID(102), *h.registrations.last.OwnerID)
	})

	t.Run("provider_unavailable", func(t *testing.T) {
		h := newHarness(t, nil)
		h.registrations.result = &ledgerdomain.PaymentResult{InvoiceID: 777}
		h.registrations.err = paymentdomain.ErrProviderUnavailable

		rec := h.do(t, http.MethodPost, "/api/registrations", map[string]any{"payment_option": "pay_now"}, "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"invoice_id":"777"`)
		assert.Contains(t, rec.Body.String(), "provider_unavailable")
	})
}

func TestReceiptDownloadAuthorization(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/receipts/555/download", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/receipts/555/download", nil, signToken(t, "parent-2", "otieno@example.com"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/receipts/555/download", nil, signToken(t, "parent-1", "jane@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="receipt-rcp-2026-000003.pdf"`, rec.Header().Get("Content-Disposition"))

	rec = h.do(t, http.MethodGet, "/api/receipts/555/download", nil, signToken(t, "admin-1", "coach@otterskenya.org"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/receipts/999/download", nil, signToken(t, "admin-1", "coach@otterskenya.org"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFirstSightLinksRegistrations(t *testing.T) {
	h := newHarness(t, nil)
	token := signToken(t, "parent-1", "jane@example.com")

	rec := h.do(t, http.MethodGet, "/api/invoices/555", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/invoices/555", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []snowflake.ID{101}, h.linker.calls, "only the first sight links")
}

func TestLinkRegistrationsEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/accounts/link-registrations", nil, signToken(t, "parent-2", "otieno@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"linked":{"invoices":1,"swimmers":2,"consents":2,"conflicts":0}}`, rec.Body.String())
}

func TestBearerTokenRejected(t *testing.T) {
	h := newHarness(t, nil)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "jane@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "parent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "jane@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "parent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "forged": forged, "garbage": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, "/api/swimmers", nil, token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestPublicRateLimit(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PublicRate: 0.01, PublicBurst: 1}}
	h := newHarness(t, ratelimit.NewPublicLimiter(cfg, ratelimit.NewTokenBucket(client)))
	h.ledger.verifyErr = paymentdomain.ErrOutcomePending

	rec := h.do(t, http.MethodPost, "/api/payments/verify", map[string]string{"reference": "REG-01J"}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/payments/verify", map[string]string{"reference": "REG-01J"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))
}
