package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeAccount  ActorType = "account"
	ActorTypeProvider ActorType = "provider"
)

// Anomaly actions recorded when money or notifications do not line up.
const (
	ActionAmountMismatch      = "payment.amount_mismatch"
	ActionUnknownReference    = "webhook.unknown_reference"
	ActionMalformedWebhook    = "webhook.malformed"
	ActionDoublePayment       = "invoice.double_payment"
	ActionProviderUnavailable = "payment.provider_unavailable"
	ActionLinkConflict        = "account.link_conflict"
	ActionAuthorizationDenied = "authorization.denied"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	Action   string
	TargetID string
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
