package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() registrationdomain.Repository {
	return &repo{}
}

func (r *repo) InsertSwimmer(ctx context.Context, db *gorm.DB, swimmer *registrationdomain.Swimmer) error {
	return db.WithContext(ctx).Create(swimmer).Error
}

func (r *repo) InsertConsent(ctx context.Context, db *gorm.DB, consent *registrationdomain.Consent) error {
	return db.WithContext(ctx).Create(consent).Error
}

const swimmerColumns = `id, owner_id, submitter_email, first_name, last_name, date_of_birth, gender,
	squad, identity_key, status, registration_complete, payment_deferred, created_at, updated_at`

func (r *repo) ListSwimmers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]registrationdomain.Swimmer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var swimmers []registrationdomain.Swimmer
	err := db.WithContext(ctx).Raw(
		`SELECT `+swimmerColumns+`
		 FROM swimmers
		 WHERE id IN ?
		 ORDER BY id ASC`,
		ids,
	).Scan(&swimmers).Error
	if err != nil {
		return nil, err
	}
	return swimmers, nil
}

func (r *repo) ListPendingByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) ([]registrationdomain.Swimmer, error) {
	var swimmers []registrationdomain.Swimmer
	err := db.WithContext(ctx).Raw(
		`SELECT `+swimmerColumns+`
		 FROM swimmers
		 WHERE owner_id = ? AND status = ?
		 ORDER BY id ASC`,
		ownerID,
		registrationdomain.SwimmerStatusPending,
	).Scan(&swimmers).Error
	if err != nil {
		return nil, err
	}
	return swimmers, nil
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) ([]registrationdomain.Swimmer, error) {
	var swimmers []registrationdomain.Swimmer
	err := db.WithContext(ctx).Raw(
		`SELECT `+swimmerColumns+`
		 FROM swimmers
		 WHERE owner_id = ?
		 ORDER BY created_at ASC, id ASC`,
		ownerID,
	).Scan(&swimmers).Error
	if err != nil {
		return nil, err
	}
	return swimmers, nil
}

func (r *repo) Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE swimmers
		 SET status = ?, registration_complete = ?, payment_deferred = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		registrationdomain.SwimmerStatusApproved,
		true,
		false,
		updatedAt,
		id,
		registrationdomain.SwimmerStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
