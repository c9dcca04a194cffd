package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/swimreg/internal/account/domain"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/smallbiznis/swimreg/internal/observability/logger"
	pkgdb "github.com/smallbiznis/swimreg/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
	Repo  accountdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        accountdomain.Repository
	clock       clock.Clock
	adminEmails []string
}

func NewService(p Params) accountdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	admins := make([]string, 0, len(p.Cfg.Auth.AdminEmails))
	for _, email := range p.Cfg.Auth.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			admins = append(admins, email)
		}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("account.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		clock:       c,
		adminEmails: admins,
	}
}

func (s *Service) Ensure(ctx context.Context, identity accountdomain.Identity) (*accountdomain.Account, bool, error) {
	subject := strings.TrimSpace(identity.Subject)
	email := normalizeEmail(identity.Email)
	if subject == "" || !strings.Contains(email, "@") {
		return nil, false, accountdomain.ErrInvalidIdentity
	}

	existing, err := s.repo.FindBySubject(ctx, s.db, subject)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.clock.Now()
	account := &accountdomain.Account{
		ID:        s.genID.Generate(),
		Subject:   subject,
		Email:     email,
		FullName:  strings.TrimSpace(identity.FullName),
		Role:      accountdomain.RoleParent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if slices.Contains(s.adminEmails, email) {
		account.Role = accountdomain.RoleAdmin
	}

	inserted, err := s.repo.Insert(ctx, s.db, account)
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, false, fmt.Errorf("%w: %s", accountdomain.ErrEmailTaken, email)
		}
		return nil, false, err
	}
	if !inserted {
		// a concurrent request created it first
		existing, err := s.repo.FindBySubject(ctx, s.db, subject)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, accountdomain.ErrAccountNotFound
		}
		return existing, false, nil
	}

	logger.WithContext(ctx, s.log).Info("account first seen",
		zap.String("account_id", account.ID.String()),
		zap.String("role", string(account.Role)),
	)
	return account, true, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*accountdomain.Account, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
