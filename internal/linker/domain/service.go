// Package domain describes merging records created before an account existed
// into that account.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LinkResult counts rows this call attached to the account.
type LinkResult struct {
	Invoices  int64 `json:"invoices"`
	Swimmers  int64 `json:"swimmers"`
	Consents  int64 `json:"consents"`
	Conflicts int64 `json:"conflicts"`
}

type Repository interface {
	ListOrphanSwimmers(ctx context.Context, db *gorm.DB, email string) ([]snowflake.ID, error)
	// AssignSwimmer reports false when the swimmer already has an owner.
	AssignSwimmer(ctx context.Context, db *gorm.DB, swimmerID, ownerID snowflake.ID, updatedAt time.Time) (bool, error)
	AssignInvoices(ctx context.Context, db *gorm.DB, email string, ownerID snowflake.ID, updatedAt time.Time) (int64, error)
	AssignConsents(ctx context.Context, db *gorm.DB, email string, ownerID snowflake.ID) (int64, error)
}

type Service interface {
	Link(ctx context.Context, accountID snowflake.ID, email string) (*LinkResult, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidEmail   = errors.New("invalid_email")
	// ErrLinkConflict marks an orphan swimmer whose identity the account
	// already owns.
	ErrLinkConflict = errors.New("link_conflict")
)
