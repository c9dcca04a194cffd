package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/smallbiznis/swimreg/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/swimreg/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/swimreg/internal/ledger/service"
	obscontext "github.com/smallbiznis/swimreg/internal/observability/context"
	"github.com/smallbiznis/swimreg/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/internal/payment/domain/mock"
	receiptrepo "github.com/smallbiznis/swimreg/internal/receipt/repository"
	receiptservice "github.com/smallbiznis/swimreg/internal/receipt/service"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	registrationrepo "github.com/smallbiznis/swimreg/internal/registration/repository"
	"github.com/smallbiznis/swimreg/internal/registration/resolver"
	registrationservice "github.com/smallbiznis/swimreg/internal/registration/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	adapter *mock.MockAdapter
	ledger  ledgerdomain.Service
	svc     registrationdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.Open(t)
	node := dbtest.Node(t)
	fc := clock.NewFakeClock(time.Date(2026, 1, 15, 7, 30, 0, 0, time.UTC))

	ctrl := gomock.NewController(t)
	adapter := mock.NewMockAdapter(ctrl)
	adapter.EXPECT().Provider().Return(paymentdomain.ProviderMpesa).AnyTimes()
	registry := adapters.NewRegistry()
	registry.Use(adapter)

	regRepo := registrationrepo.Provide()
	ledgerRepo := ledgerrepo.Provide()
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Cfg:      config.Config{DefaultProvider: paymentdomain.ProviderMpesa},
		Repo:     ledgerRepo,
		Adapters: registry,
		Approver: resolver.New(resolver.Params{Log: zap.NewNop(), Repo: regRepo, Clock: fc}),
		Receipts: receiptservice.NewService(receiptservice.Params{
			DB:     db,
			Log:    zap.NewNop(),
			GenID:  node,
			Repo:   receiptrepo.Provide(),
			Ledger: ledgerRepo,
			Clock:  fc,
		}),
		Clock: fc,
	})

	svc := registrationservice.NewService(registrationservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   regRepo,
		Ledger: ledger,
		Clock:  fc,
	})
	return &fixture{db: db, adapter: adapter, ledger: ledger, svc: svc}
}

func validRequest() registrationdomain.SubmitRequest {
	return registrationdomain.SubmitRequest{
		Parent: registrationdomain.ParentInfo{
			FullName:                     "Grace Kamau",
			Email:                        "Grace@Example.com",
			Phone:                        "0712345678",
			Relationship:                 "mother",
			EmergencyContactName:         "Peter Kamau",
			EmergencyContactRelationship: "father",
			EmergencyContactPhone:        "+254722000111",
		},
		Swimmers: []registrationdomain.SwimmerInput{
			{FirstName: "Wanjiru", LastName: "Kamau", DateOfBirth: "2014-06-01", Gender: "female", Squad: "competitive"},
			{FirstName: "Baraka", LastName: "Kamau", DateOfBirth: "2017-02-11", Gender: "male", Squad: "learn_to_swim"},
		},
		Consents:      registrationdomain.Consents{Media: true, CodeOfConduct: true, DataAccuracy: true},
		PaymentOption: registrationdomain.PaymentOptionPayNow,
		TotalAmount:   700000,
	}
}

func (f *fixture) expectSTKPush(t *testing.T) {
	f.adapter.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, intent paymentdomain.Intent) (*paymentdomain.Pending, error) {
			assert.Equal(t, "0712345678", intent.PayerPhone)
			assert.Equal(t, int64(700000), intent.Amount)
			return &paymentdomain.Pending{
				ProviderReference: "ws_CO_150120260730001",
				MerchantRequestID: "29115-34620561-1",
				CustomerMessage:   "Success. Request accepted for processing",
			}, nil
		},
	)
}

func TestSubmitTwoSwimmersThenWebhookApprovesBoth(t *testing.T) {
	f := newFixture(t)
	f.expectSTKPush(t)

	ctx := obscontext.WithClient(context.Background(), "41.90.64.2", "Mozilla/5.0")
	result, err := f.svc.Submit(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(700000), result.TotalAmount)
	assert.Equal(t, "KES", result.Currency)
	assert.Equal(t, paymentdomain.ProviderMpesa, result.Provider)
	assert.Len(t, result.SwimmerIDs, 2)
	assert.Equal(t, "Success. Request accepted for processing", result.CustomerMessage)

	assert.Equal(t, int64(2), dbtest.Count(t, f.db, "swimmers", "status = ? AND owner_id IS NULL AND submitter_email = ?", "pending", "grace@example.com"))
	assert.Equal(t, int64(2), dbtest.Count(t, f.db, "registration_consents", "ip_address = ? AND media_consent = ?", "41.90.64.2", true))
	assert.Equal(t, int64(2), dbtest.Count(t, f.db, "invoice_line_items", "unit_amount = ?", 350000))

	outcome := paymentdomain.Outcome{
		Provider:          paymentdomain.ProviderMpesa,
		ProviderReference: "ws_CO_150120260730001",
		EventType:         "stk_callback",
		Succeeded:         true,
		AmountPaid:        700000,
		Currency:          "KES",
		Channel:           "mpesa",
		TransactionID:     "TJF4XYZ123",
		PaidAt:            time.Date(2026, 1, 15, 7, 31, 0, 0, time.UTC),
	}
	reconciled, err := f.ledger.Reconcile(context.Background(), outcome.LookupKey(), outcome)
	require.NoError(t, err)
	assert.ElementsMatch(t, result.SwimmerIDs, reconciled.ApprovedSwimmers)
	assert.Equal(t, ledgerdomain.InvoiceStatusPaid, reconciled.InvoiceStatus)

	again, err := f.ledger.Reconcile(context.Background(), outcome.LookupKey(), outcome)
	require.NoError(t, err)
	assert.True(t, again.AlreadyReconciled)

	assert.Equal(t, int64(2), dbtest.Count(t, f.db, "swimmers", "status = ?", "approved"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "receipts", ""))
}

func TestSubmitPayLaterIssuesInvoiceWithoutProvider(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.PaymentOption = registrationdomain.PaymentOptionPayLater

	result, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, ledgerdomain.InvoiceStatusIssued, result.InvoiceStatus)
	assert.Nil(t, result.PaymentID)
	assert.Equal(t, int64(2), dbtest.Count(t, f.db, "swimmers", "payment_deferred = ?", true))
	assert.Zero(t, dbtest.Count(t, f.db, "payments", ""))
}

func TestSubmitRejectsTamperedTotal(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.TotalAmount = 350000

	_, err := f.svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, registrationdomain.ErrTotalMismatch)
	assert.Zero(t, dbtest.Count(t, f.db, "invoices", ""))
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*registrationdomain.SubmitRequest)
		want   error
	}{
		{
			name:   "no swimmers",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Swimmers = nil },
			want:   registrationdomain.ErrNoSwimmers,
		},
		{
			name:   "bad parent phone",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Parent.Phone = "0812345678" },
			want:   registrationdomain.ErrInvalidPhone,
		},
		{
			name:   "bad emergency phone",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Parent.EmergencyContactPhone = "12345" },
			want:   registrationdomain.ErrInvalidPhone,
		},
		{
			name:   "missing parent email",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Parent.Email = "grace" },
			want:   registrationdomain.ErrInvalidParent,
		},
		{
			name:   "future date of birth",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Swimmers[0].DateOfBirth = "2030-01-01" },
			want:   registrationdomain.ErrInvalidSwimmer,
		},
		{
			name:   "unknown squad",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Swimmers[1].Squad = "masters" },
			want:   registrationdomain.ErrInvalidSwimmer,
		},
		{
			name: "same swimmer twice",
			mutate: func(r *registrationdomain.SubmitRequest) {
				r.Swimmers[1] = r.Swimmers[0]
				r.Swimmers[1].FirstName = " WANJIRU "
			},
			want: registrationdomain.ErrDuplicateSwimmer,
		},
		{
			name:   "code of conduct not accepted",
			mutate: func(r *registrationdomain.SubmitRequest) { r.Consents.CodeOfConduct = false },
			want:   registrationdomain.ErrConsentRequired,
		},
		{
			name:   "unknown payment option",
			mutate: func(r *registrationdomain.SubmitRequest) { r.PaymentOption = "installments" },
			want:   registrationdomain.ErrInvalidPaymentOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			tt.mutate(&req)

			_, err := f.svc.Submit(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, dbtest.Count(t, f.db, "swimmers", ""))
		})
	}
}

func TestSubmitSameSwimmerAgainForOwnerIsRejected(t *testing.T) {
	f := newFixture(t)
	owner := dbtest.Node(t).Generate()

	req := validRequest()
	req.OwnerID = &owner
	req.PaymentOption = registrationdomain.PaymentOptionPayLater
	_, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, registrationdomain.ErrDuplicateSwimmer)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "invoices", ""), "failed submission leaves no invoice behind")

	swimmers, err := f.svc.ListSwimmers(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, swimmers, 2)
}
