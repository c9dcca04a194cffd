package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Role string

const (
	RoleParent Role = "parent"
	RoleAdmin  Role = "admin"
)

// Account is a user authenticated elsewhere, recorded the first time one of
// their tokens is seen.
type Account struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Subject   string       `json:"subject" gorm:"type:text;not null;uniqueIndex"`
	Email     string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	FullName  string       `json:"full_name" gorm:"type:text;not null"`
	Role      Role         `json:"role" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Identity is what a validated bearer token says about its holder.
type Identity struct {
	Subject  string
	Email    string
	FullName string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	FindBySubject(ctx context.Context, db *gorm.DB, subject string) (*Account, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
}

type Service interface {
	// Ensure returns the account for identity, creating it on first sight.
	// created is true only for the call that inserted the row.
	Ensure(ctx context.Context, identity Identity) (account *Account, created bool, err error)
	Get(ctx context.Context, id snowflake.ID) (*Account, error)
}

var (
	ErrInvalidIdentity = errors.New("invalid_identity")
	ErrAccountNotFound = errors.New("account_not_found")
	ErrEmailTaken      = errors.New("email_taken")
)
