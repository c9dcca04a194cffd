package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/swimreg/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

// Insert reports false when an account with the same subject already exists.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *accountdomain.Account) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "subject"}}, DoNothing: true}).
		Create(account)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

const accountColumns = `id, subject, email, full_name, role, created_at, updated_at`

func (r *repo) FindBySubject(ctx context.Context, db *gorm.DB, subject string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE subject = ? LIMIT 1`,
		subject,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? LIMIT 1`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}
