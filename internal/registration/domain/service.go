package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"gorm.io/gorm"
)

type PaymentOption string

const (
	PaymentOptionPayNow   PaymentOption = "pay_now"
	PaymentOptionPayLater PaymentOption = "pay_later"
)

var (
	Genders = []string{"male", "female"}
	Squads  = []string{"competitive", "learn_to_swim", "fitness"}
)

type ParentInfo struct {
	FullName                     string `json:"full_name"`
	Email                        string `json:"email"`
	Phone                        string `json:"phone"`
	Relationship                 string `json:"relationship"`
	EmergencyContactName         string `json:"emergency_contact_name"`
	EmergencyContactRelationship string `json:"emergency_contact_relationship"`
	EmergencyContactPhone        string `json:"emergency_contact_phone"`
}

type SwimmerInput struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Squad       string `json:"squad"`
}

type Consents struct {
	Media         bool `json:"media"`
	CodeOfConduct bool `json:"code_of_conduct"`
	DataAccuracy  bool `json:"data_accuracy"`
}

type SubmitRequest struct {
	OwnerID       *snowflake.ID
	Parent        ParentInfo
	Swimmers      []SwimmerInput
	Consents      Consents
	PaymentOption PaymentOption
	Provider      string
	// TotalAmount is what the client displayed; zero skips the check.
	TotalAmount int64
}

type Repository interface {
	InsertSwimmer(ctx context.Context, db *gorm.DB, swimmer *Swimmer) error
	InsertConsent(ctx context.Context, db *gorm.DB, consent *Consent) error
	ListSwimmers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Swimmer, error)
	ListPendingByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) ([]Swimmer, error)
	ListByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) ([]Swimmer, error)
	// Approve moves one swimmer from pending to approved and reports
	// whether this call made the change.
	Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (bool, error)
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*ledgerdomain.PaymentResult, error)
	ListSwimmers(ctx context.Context, ownerID snowflake.ID) ([]Swimmer, error)
}

var (
	ErrInvalidParent        = errors.New("invalid_parent")
	ErrInvalidPhone         = errors.New("invalid_phone")
	ErrNoSwimmers           = errors.New("no_swimmers")
	ErrInvalidSwimmer       = errors.New("invalid_swimmer")
	ErrDuplicateSwimmer     = errors.New("duplicate_swimmer")
	ErrConsentRequired      = errors.New("consent_required")
	ErrInvalidPaymentOption = errors.New("invalid_payment_option")
	ErrTotalMismatch        = errors.New("total_amount_mismatch")
)
