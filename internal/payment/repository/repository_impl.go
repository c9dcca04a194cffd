package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, eventKey string) (*paymentdomain.EventRecord, error) {
	var item paymentdomain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, event_key, event_type, reference, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND event_key = ?
		 LIMIT 1`,
		provider,
		eventKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *paymentdomain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, event_key, event_type, reference, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_key) DO NOTHING`,
		event.ID,
		event.Provider,
		event.EventKey,
		event.EventType,
		event.Reference,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, eventType string, reference string, processedAt time.Time) error {
	var ref *string
	if reference != "" {
		ref = &reference
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?, event_type = ?, reference = COALESCE(?, reference)
		 WHERE id = ?`,
		processedAt,
		eventType,
		ref,
		id,
	).Error
}
