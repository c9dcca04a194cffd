package service

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	obscontext "github.com/smallbiznis/swimreg/internal/observability/context"
	"github.com/smallbiznis/swimreg/internal/observability/logger"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	pkgdb "github.com/smallbiznis/swimreg/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var kenyanPhone = regexp.MustCompile(`^(\+254|254|0)[17]\d{8}$`)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   registrationdomain.Repository
	Ledger ledgerdomain.Service
	Policy *config.RegistrationPolicyHolder `optional:"true"`
	Clock  clock.Clock                      `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   registrationdomain.Repository
	ledger ledgerdomain.Service
	policy *config.RegistrationPolicyHolder
	clock  clock.Clock
}

func NewService(p Params) registrationdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("registration.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		ledger: p.Ledger,
		policy: p.Policy,
		clock:  c,
	}
}

func (s *Service) Submit(ctx context.Context, req registrationdomain.SubmitRequest) (*ledgerdomain.PaymentResult, error) {
	parent, err := normalizeParent(req.Parent)
	if err != nil {
		return nil, err
	}
	swimmers, err := s.normalizeSwimmers(req.Swimmers)
	if err != nil {
		return nil, err
	}
	if !req.Consents.CodeOfConduct || !req.Consents.DataAccuracy {
		return nil, registrationdomain.ErrConsentRequired
	}

	option := registrationdomain.PaymentOption(strings.ToLower(strings.TrimSpace(string(req.PaymentOption))))
	if option == "" {
		option = registrationdomain.PaymentOptionPayNow
	}
	if option != registrationdomain.PaymentOptionPayNow && option != registrationdomain.PaymentOptionPayLater {
		return nil, registrationdomain.ErrInvalidPaymentOption
	}
	payLater := option == registrationdomain.PaymentOptionPayLater

	policy := s.policy.Get()
	total := policy.FeePerSwimmer * int64(len(swimmers))
	if req.TotalAmount != 0 && req.TotalAmount != total {
		return nil, fmt.Errorf("%w: expected %d, got %d", registrationdomain.ErrTotalMismatch, total, req.TotalAmount)
	}

	ids := make([]snowflake.ID, len(swimmers))
	items := make([]ledgerdomain.LineItemInput, len(swimmers))
	for i, swimmer := range swimmers {
		ids[i] = s.genID.Generate()
		swimmerID := ids[i]
		items[i] = ledgerdomain.LineItemInput{
			SwimmerID:   &swimmerID,
			Description: fmt.Sprintf("Registration fee - %s %s", swimmer.FirstName, swimmer.LastName),
			UnitAmount:  policy.FeePerSwimmer,
			Quantity:    1,
		}
	}

	ipAddress, userAgent := obscontext.ClientFromContext(ctx)
	consentText := policy.ConsentText

	attach := func(ctx context.Context, tx *gorm.DB, invoice *ledgerdomain.Invoice) ([]snowflake.ID, error) {
		now := invoice.CreatedAt
		for i, in := range swimmers {
			swimmer := &registrationdomain.Swimmer{
				ID:              ids[i],
				OwnerID:         req.OwnerID,
				SubmitterEmail:  parent.Email,
				FirstName:       in.FirstName,
				LastName:        in.LastName,
				DateOfBirth:     in.DateOfBirth,
				Gender:          in.Gender,
				Squad:           in.Squad,
				IdentityKey:     registrationdomain.IdentityKey(in.FirstName, in.LastName, in.DateOfBirth),
				Status:          registrationdomain.SwimmerStatusPending,
				PaymentDeferred: payLater,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.InsertSwimmer(ctx, tx, swimmer); err != nil {
				if pkgdb.IsDuplicateKeyErr(err) {
					return nil, fmt.Errorf("%w: %s", registrationdomain.ErrDuplicateSwimmer, swimmer.FullName())
				}
				return nil, err
			}

			consent := &registrationdomain.Consent{
				ID:                    s.genID.Generate(),
				OwnerID:               req.OwnerID,
				SwimmerID:             swimmer.ID,
				SubmitterEmail:        parent.Email,
				MediaConsent:          req.Consents.Media,
				CodeOfConductConsent:  req.Consents.CodeOfConduct,
				DataAccuracyConfirmed: req.Consents.DataAccuracy,
				ConsentText:           consentText,
				IPAddress:             optional(ipAddress),
				UserAgent:             optional(userAgent),
				CreatedAt:             now,
			}
			if err := s.repo.InsertConsent(ctx, tx, consent); err != nil {
				return nil, err
			}
		}
		return ids, nil
	}

	result, err := s.ledger.OpenInvoice(ctx, ledgerdomain.OpenInvoiceRequest{
		OwnerID:    req.OwnerID,
		PayerEmail: parent.Email,
		PayerPhone: parent.Phone,
		Payer: &ledgerdomain.PayerProfile{
			FullName:                     parent.FullName,
			Email:                        parent.Email,
			Phone:                        parent.Phone,
			Relationship:                 parent.Relationship,
			EmergencyContactName:         parent.EmergencyContactName,
			EmergencyContactRelationship: parent.EmergencyContactRelationship,
			EmergencyContactPhone:        parent.EmergencyContactPhone,
		},
		Currency:    policy.Currency,
		Description: fmt.Sprintf("%s swimmer registration", policy.ClubName),
		Provider:    req.Provider,
		PayLater:    payLater,
		TotalAmount: total,
		LineItems:   items,
		Attach:      attach,
	})
	if err != nil {
		return result, err
	}

	logger.WithContext(ctx, s.log).Info("registration submitted",
		zap.String("invoice_id", result.InvoiceID.String()),
		zap.Int("swimmers", len(swimmers)),
		zap.String("payment_option", string(option)),
		zap.Bool("orphaned", req.OwnerID == nil),
	)
	return result, nil
}

func (s *Service) ListSwimmers(ctx context.Context, ownerID snowflake.ID) ([]registrationdomain.Swimmer, error) {
	return s.repo.ListByOwner(ctx, s.db, ownerID)
}

func normalizeParent(in registrationdomain.ParentInfo) (registrationdomain.ParentInfo, error) {
	out := registrationdomain.ParentInfo{
		FullName:                     strings.TrimSpace(in.FullName),
		Email:                        strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:                        strings.TrimSpace(in.Phone),
		Relationship:                 strings.TrimSpace(in.Relationship),
		EmergencyContactName:         strings.TrimSpace(in.EmergencyContactName),
		EmergencyContactRelationship: strings.TrimSpace(in.EmergencyContactRelationship),
		EmergencyContactPhone:        strings.TrimSpace(in.EmergencyContactPhone),
	}
	if out.FullName == "" || !strings.Contains(out.Email, "@") {
		return out, registrationdomain.ErrInvalidParent
	}
	if !kenyanPhone.MatchString(out.Phone) {
		return out, registrationdomain.ErrInvalidPhone
	}
	if out.EmergencyContactName == "" || out.EmergencyContactRelationship == "" {
		return out, registrationdomain.ErrInvalidParent
	}
	if !kenyanPhone.MatchString(out.EmergencyContactPhone) {
		return out, registrationdomain.ErrInvalidPhone
	}
	return out, nil
}

func (s *Service) normalizeSwimmers(in []registrationdomain.SwimmerInput) ([]registrationdomain.SwimmerInput, error) {
	if len(in) == 0 {
		return nil, registrationdomain.ErrNoSwimmers
	}
	today := s.clock.Now()
	seen := map[string]struct{}{}
	out := make([]registrationdomain.SwimmerInput, 0, len(in))
	for i, swimmer := range in {
		swimmer.FirstName = strings.TrimSpace(swimmer.FirstName)
		swimmer.LastName = strings.TrimSpace(swimmer.LastName)
		swimmer.DateOfBirth = strings.TrimSpace(swimmer.DateOfBirth)
		swimmer.Gender = strings.ToLower(strings.TrimSpace(swimmer.Gender))
		swimmer.Squad = strings.ToLower(strings.TrimSpace(swimmer.Squad))

		if swimmer.FirstName == "" || swimmer.LastName == "" {
			return nil, fmt.Errorf("%w: swimmer %d name is required", registrationdomain.ErrInvalidSwimmer, i+1)
		}
		dob, err := time.Parse(time.DateOnly, swimmer.DateOfBirth)
		if err != nil || dob.After(today) {
			return nil, fmt.Errorf("%w: swimmer %d date of birth", registrationdomain.ErrInvalidSwimmer, i+1)
		}
		if !slices.Contains(registrationdomain.Genders, swimmer.Gender) {
			return nil, fmt.Errorf("%w: swimmer %d gender", registrationdomain.ErrInvalidSwimmer, i+1)
		}
		if !slices.Contains(registrationdomain.Squads, swimmer.Squad) {
			return nil, fmt.Errorf("%w: swimmer %d squad", registrationdomain.ErrInvalidSwimmer, i+1)
		}

		key := registrationdomain.IdentityKey(swimmer.FirstName, swimmer.LastName, swimmer.DateOfBirth)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s %s", registrationdomain.ErrDuplicateSwimmer, swimmer.FirstName, swimmer.LastName)
		}
		seen[key] = struct{}{}
		out = append(out, swimmer)
	}
	return out, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
