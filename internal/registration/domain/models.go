package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type SwimmerStatus string

const (
	SwimmerStatusPending  SwimmerStatus = "pending"
	SwimmerStatusApproved SwimmerStatus = "approved"
	SwimmerStatusInactive SwimmerStatus = "inactive"
)

type Swimmer struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	OwnerID              *snowflake.ID `json:"owner_id,omitempty"`
	SubmitterEmail       string        `json:"submitter_email" gorm:"type:text;not null"`
	FirstName            string        `json:"first_name" gorm:"type:text;not null"`
	LastName             string        `json:"last_name" gorm:"type:text;not null"`
	DateOfBirth          string        `json:"date_of_birth" gorm:"type:text;not null"`
	Gender               string        `json:"gender" gorm:"type:text;not null"`
	Squad                string        `json:"squad" gorm:"type:text;not null"`
	IdentityKey          string        `json:"-" gorm:"type:text;not null"`
	Status               SwimmerStatus `json:"status" gorm:"type:text;not null"`
	RegistrationComplete bool          `json:"registration_complete" gorm:"not null"`
	PaymentDeferred      bool          `json:"payment_deferred" gorm:"not null"`
	CreatedAt            time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time     `json:"updated_at" gorm:"not null"`
}

func (Swimmer) TableName() string { return "swimmers" }

// FullName joins first and last name.
func (s Swimmer) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Consent is an immutable record of what the submitter agreed to.
type Consent struct {
	ID                    snowflake.ID  `json:"id" gorm:"primaryKey"`
	OwnerID               *snowflake.ID `json:"owner_id,omitempty"`
	SwimmerID             snowflake.ID  `json:"swimmer_id" gorm:"not null"`
	SubmitterEmail        string        `json:"submitter_email" gorm:"type:text;not null"`
	MediaConsent          bool          `json:"media_consent" gorm:"not null"`
	CodeOfConductConsent  bool          `json:"code_of_conduct_consent" gorm:"not null"`
	DataAccuracyConfirmed bool          `json:"data_accuracy_confirmed" gorm:"not null"`
	ConsentText           string        `json:"consent_text" gorm:"type:text;not null"`
	IPAddress             *string       `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent             *string       `json:"user_agent,omitempty" gorm:"type:text"`
	CreatedAt             time.Time     `json:"created_at" gorm:"not null"`
}

func (Consent) TableName() string { return "registration_consents" }

// IdentityKey identifies a swimmer within one owner: names are compared
// case-insensitively, date of birth verbatim.
func IdentityKey(firstName, lastName, dateOfBirth string) string {
	return strings.ToLower(strings.TrimSpace(firstName)) + "|" +
		strings.ToLower(strings.TrimSpace(lastName)) + "|" +
		strings.TrimSpace(dateOfBirth)
}
