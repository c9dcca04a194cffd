package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	linkerdomain "github.com/smallbiznis/swimreg/internal/linker/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() linkerdomain.Repository {
	return &repo{}
}

func (r *repo) ListOrphanSwimmers(ctx context.Context, db *gorm.DB, email string) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id
		 FROM swimmers
		 WHERE owner_id IS NULL AND LOWER(TRIM(submitter_email)) = ?
		 ORDER BY id ASC`,
		email,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) AssignSwimmer(ctx context.Context, db *gorm.DB, swimmerID, ownerID snowflake.ID, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE swimmers
		 SET owner_id = ?, updated_at = ?
		 WHERE id = ? AND owner_id IS NULL`,
		ownerID,
		updatedAt,
		swimmerID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AssignInvoices(ctx context.Context, db *gorm.DB, email string, ownerID snowflake.ID, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET owner_id = ?, updated_at = ?
		 WHERE owner_id IS NULL AND LOWER(TRIM(payer_email)) = ?`,
		ownerID,
		updatedAt,
		email,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) AssignConsents(ctx context.Context, db *gorm.DB, email string, ownerID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE registration_consents
		 SET owner_id = ?
		 WHERE owner_id IS NULL AND LOWER(TRIM(submitter_email)) = ?`,
		ownerID,
		email,
	)
	return res.RowsAffected, res.Error
}
