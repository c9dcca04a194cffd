package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EventRecord is a raw webhook delivery, deduplicated by body hash.
type EventRecord struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider    string       `json:"provider" gorm:"type:text;not null"`
	EventKey    string       `json:"event_key" gorm:"type:text;not null"`
	EventType   string       `json:"event_type" gorm:"type:text;not null"`
	Reference   *string      `json:"reference,omitempty" gorm:"type:text"`
	Payload     string       `json:"payload" gorm:"type:text;not null"`
	ReceivedAt  time.Time    `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time   `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, eventKey string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, eventType string, reference string, processedAt time.Time) error
}

type WebhookResult struct {
	// Ack is the body returned to the provider; nil means an empty 200.
	Ack       any
	Duplicate bool
	Outcome   string
}

type WebhookService interface {
	Ingest(ctx context.Context, provider string, n Notification) (*WebhookResult, error)
}
